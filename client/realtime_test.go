package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsTestServer is a minimal realtime endpoint: it upgrades connections and
// lets the test push hub events or kill the link.
type wsTestServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
	deny  bool
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	s := &wsTestServer{upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		deny := s.deny
		s.mu.Unlock()
		if deny {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		// Drain until the peer goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http") + "/training/ws?session_id=session-1"
}

func (s *wsTestServer) setDeny(deny bool) {
	s.mu.Lock()
	s.deny = deny
	s.mu.Unlock()
}

func (s *wsTestServer) push(t *testing.T, ev hubEvent) {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.conns, "no websocket connection established")
	conn := s.conns[len(s.conns)-1]
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func (s *wsTestServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func waitForState(t *testing.T, c *RealtimeChannel, want ConnectionState) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if c.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("state = %s, never reached %s", c.State(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRealtimeDeliversMessages(t *testing.T) {
	server := newWSTestServer(t)

	received := make(chan Message, 4)
	channel := NewRealtimeChannel(RealtimeConfig{
		URL:       server.url(),
		OnMessage: func(msg Message) { received <- msg },
	})
	defer channel.Disconnect()

	channel.Connect()
	waitForState(t, channel, StateConnected)

	sent := Message{ID: "msg-1", SessionID: "session-1", Sender: SenderAI, Content: "Hola", SentAt: time.Now().UTC()}
	server.push(t, hubEvent{Type: "message", Message: &sent})

	select {
	case got := <-received:
		assert.Equal(t, "msg-1", got.ID)
		assert.Equal(t, "Hola", got.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("message event never delivered")
	}
}

func TestRealtimeSessionEndedEvent(t *testing.T) {
	server := newWSTestServer(t)

	ended := make(chan struct{}, 1)
	channel := NewRealtimeChannel(RealtimeConfig{
		URL:            server.url(),
		OnSessionEnded: func() { ended <- struct{}{} },
	})
	defer channel.Disconnect()

	channel.Connect()
	waitForState(t, channel, StateConnected)

	server.push(t, hubEvent{Type: "session_ended"})

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("session-ended event never delivered")
	}
}

func TestRealtimeReconnectsAfterDrop(t *testing.T) {
	server := newWSTestServer(t)

	reconnecting := make(chan struct{}, 1)
	channel := NewRealtimeChannel(RealtimeConfig{
		URL:       server.url(),
		BaseDelay: 10 * time.Millisecond,
		OnStateChange: func(s ConnectionState) {
			if s == StateReconnecting {
				select {
				case reconnecting <- struct{}{}:
				default:
				}
			}
		},
	})
	defer channel.Disconnect()

	channel.Connect()
	waitForState(t, channel, StateConnected)

	server.dropAll()
	select {
	case <-reconnecting:
	case <-time.After(3 * time.Second):
		t.Fatal("drop never triggered a reconnect")
	}
	waitForState(t, channel, StateConnected)
}

func TestRealtimeFailsAfterRetryBudget(t *testing.T) {
	server := newWSTestServer(t)
	server.setDeny(true)

	var states []ConnectionState
	var mu sync.Mutex
	channel := NewRealtimeChannel(RealtimeConfig{
		URL:        server.url(),
		MaxRetries: 2,
		BaseDelay:  5 * time.Millisecond,
		OnStateChange: func(s ConnectionState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	defer channel.Disconnect()

	channel.Connect()
	waitForState(t, channel, StateFailed)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.Equal(t, StateConnecting, states[0])
	assert.Contains(t, states, StateReconnecting)
	assert.Equal(t, StateFailed, states[len(states)-1])
}

func TestRealtimeForceReconnectRecoversFromFailed(t *testing.T) {
	server := newWSTestServer(t)
	server.setDeny(true)

	channel := NewRealtimeChannel(RealtimeConfig{
		URL:        server.url(),
		MaxRetries: 1,
		BaseDelay:  5 * time.Millisecond,
	})
	defer channel.Disconnect()

	channel.Connect()
	waitForState(t, channel, StateFailed)

	server.setDeny(false)
	channel.ClearCache()
	channel.ForceReconnect()
	waitForState(t, channel, StateConnected)
}

func TestRealtimeDisconnectIsIdempotent(t *testing.T) {
	server := newWSTestServer(t)

	channel := NewRealtimeChannel(RealtimeConfig{URL: server.url()})
	channel.Connect()
	waitForState(t, channel, StateConnected)

	channel.Disconnect()
	channel.Disconnect()
	assert.Equal(t, StateIdle, channel.State())

	// Disconnect before any connect is also safe
	fresh := NewRealtimeChannel(RealtimeConfig{URL: server.url()})
	fresh.Disconnect()
	assert.Equal(t, StateIdle, fresh.State())
}

func TestRealtimeDisconnectLeavesNoObserverGoroutine(t *testing.T) {
	server := newWSTestServer(t)
	baseline := runtime.NumGoroutine()

	for i := 0; i < 10; i++ {
		channel := NewRealtimeChannel(RealtimeConfig{
			URL:           server.url(),
			OnStateChange: func(ConnectionState) {},
		})
		channel.Connect()
		waitForState(t, channel, StateConnected)
		channel.Disconnect()
		waitForState(t, channel, StateIdle)
	}

	// The observer dispatcher exits once its queue drains; ten connect and
	// disconnect cycles must not accumulate goroutines
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline+3
	}, 3*time.Second, 20*time.Millisecond, "goroutines = %d, baseline %d", runtime.NumGoroutine(), baseline)
}

func TestRealtimeBackoffDelayCurve(t *testing.T) {
	channel := NewRealtimeChannel(RealtimeConfig{
		URL:       "ws://unused",
		BaseDelay: 2 * time.Second,
		MaxDelay:  30 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{8, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, channel.backoffDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}
