package client

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnectionState is the realtime channel's lifecycle state.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateFailed       ConnectionState = "failed"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = 2 * time.Second
	defaultMaxDelay   = 30 * time.Second
)

// hubEvent mirrors the server's websocket event format.
type hubEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}

// RealtimeConfig configures a RealtimeChannel.
type RealtimeConfig struct {
	// URL is the fully built websocket endpoint including the session_id query.
	URL string
	// MaxRetries bounds automatic reconnection attempts before the channel
	// gives up and reports StateFailed. Defaults to 5.
	MaxRetries int
	// BaseDelay seeds the exponential backoff curve. Defaults to 2s.
	BaseDelay time.Duration
	// MaxDelay caps the backoff. Defaults to 30s.
	MaxDelay time.Duration

	OnMessage      func(Message)
	OnSessionEnded func()
	OnStateChange  func(ConnectionState)
}

// RealtimeChannel maintains a live subscription to one session's message
// events, tolerating transient connectivity loss. On failure it reconnects
// with bounded exponential backoff; once retries exhaust it settles in
// StateFailed and the caller is expected to offer a manual resync action.
// Events are delivered at-least-once; the MessageStore deduplicates.
type RealtimeChannel struct {
	url            string
	dialer         *websocket.Dialer
	maxRetries     int
	baseDelay      time.Duration
	maxDelay       time.Duration
	onMessage      func(Message)
	onSessionEnded func()
	onStateChange  func(ConnectionState)

	mu            sync.Mutex
	state         ConnectionState
	conn          *websocket.Conn
	retryCount    int
	retryTimer    *time.Timer
	generation    int
	pendingStates []ConnectionState
	dispatching   bool
}

func NewRealtimeChannel(cfg RealtimeConfig) *RealtimeChannel {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	return &RealtimeChannel{
		url:            cfg.URL,
		dialer:         websocket.DefaultDialer,
		maxRetries:     cfg.MaxRetries,
		baseDelay:      cfg.BaseDelay,
		maxDelay:       cfg.MaxDelay,
		onMessage:      cfg.OnMessage,
		onSessionEnded: cfg.OnSessionEnded,
		onStateChange:  cfg.OnStateChange,
		state:          StateIdle,
	}
}

// State returns the current connection state.
func (c *RealtimeChannel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the subscription. No-op when already connected or connecting.
func (c *RealtimeChannel) Connect() {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateConnecting)
	gen := c.generation
	c.mu.Unlock()

	go c.dial(gen)
}

func (c *RealtimeChannel) dial(gen int) {
	conn, _, err := c.dialer.Dial(c.url, nil)

	c.mu.Lock()
	if c.generation != gen {
		// Disconnect or ForceReconnect raced us; this attempt is stale
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		slog.Warn("Realtime dial failed", "error", err, "attempt", c.retryCount+1)
		c.mu.Unlock()
		c.scheduleReconnect(gen)
		return
	}

	c.conn = conn
	c.retryCount = 0
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.readLoop(conn, gen)
}

func (c *RealtimeChannel) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var ev hubEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Error("Failed to decode realtime event", "error", err)
			continue
		}

		switch ev.Type {
		case "message":
			if ev.Message != nil && c.onMessage != nil {
				c.onMessage(*ev.Message)
			}
		case "session_ended":
			if c.onSessionEnded != nil {
				c.onSessionEnded()
			}
		}
	}

	conn.Close()

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	c.scheduleReconnect(gen)
}

// scheduleReconnect arms the backoff timer for the next attempt, or surfaces
// StateFailed once the retry budget is exhausted.
func (c *RealtimeChannel) scheduleReconnect(gen int) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}

	c.retryCount++
	if c.retryCount > c.maxRetries {
		slog.Warn("Realtime retries exhausted", "retries", c.maxRetries)
		c.setStateLocked(StateFailed)
		c.mu.Unlock()
		return
	}

	delay := c.backoffDelay(c.retryCount)
	c.setStateLocked(StateReconnecting)
	c.retryTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.generation != gen || c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.setStateLocked(StateConnecting)
		c.mu.Unlock()
		c.dial(gen)
	})
	c.mu.Unlock()

	slog.Info("Realtime reconnect scheduled", "attempt", c.retryCount, "delay", delay)
}

func (c *RealtimeChannel) backoffDelay(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	return delay
}

// Disconnect tears down the subscription and cancels any pending retry.
// Idempotent, safe from any state, always lands in StateIdle.
func (c *RealtimeChannel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.retryCount = 0
	if c.state != StateIdle {
		c.setStateLocked(StateIdle)
	}
}

// ForceReconnect bypasses the backoff timer: it drops the current connection
// (if any), resets the retry budget and dials immediately. Used by the manual
// "refresh messages" action.
func (c *RealtimeChannel) ForceReconnect() {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.retryCount = 0
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	go c.dial(gen)
}

// ClearCache resets the channel's retry bookkeeping so the next failure starts
// a fresh backoff curve. Message dedup state lives in the MessageStore, not
// here; callers pair this with a full history refetch.
func (c *RealtimeChannel) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryCount = 0
}

// setStateLocked updates the state and queues the observer notification.
// Callers must hold c.mu. Transitions are delivered in order by a dispatcher
// goroutine that exits once the queue drains, so an idle channel holds no
// goroutines.
func (c *RealtimeChannel) setStateLocked(state ConnectionState) {
	if c.state == state {
		return
	}
	c.state = state
	if c.onStateChange == nil {
		return
	}

	c.pendingStates = append(c.pendingStates, state)
	if c.dispatching {
		return
	}
	c.dispatching = true
	go c.dispatchStates()
}

func (c *RealtimeChannel) dispatchStates() {
	for {
		c.mu.Lock()
		if len(c.pendingStates) == 0 {
			c.dispatching = false
			c.mu.Unlock()
			return
		}
		state := c.pendingStates[0]
		c.pendingStates = c.pendingStates[1:]
		c.mu.Unlock()

		c.onStateChange(state)
	}
}
