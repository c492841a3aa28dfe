package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase is the session flow state.
type Phase string

const (
	PhaseCodeEntry Phase = "code_entry"
	PhaseNameEntry Phase = "name_entry"
	PhaseChatting  Phase = "chatting"
	PhaseEnded     Phase = "ended"
)

var (
	// ErrBusy is returned when an action is already in flight.
	ErrBusy = errors.New("an operation is already in progress")
	// ErrWrongPhase is returned when an action is invalid for the current phase.
	ErrWrongPhase = errors.New("action not allowed in current phase")
)

// ControllerConfig configures a SessionController.
type ControllerConfig struct {
	API *APIClient
	// SessionSeconds is the countdown length. Defaults to 300.
	SessionSeconds int
	// OnUpdate fires after any observable state change so a UI can re-render.
	OnUpdate func()
}

// SessionController drives one candidate's training session end to end:
// code validation, session start, the chat exchange with optimistic sends,
// the countdown, and termination with evaluation. All exported methods are
// safe for concurrent use; each mutating action carries an in-flight guard
// so double-clicks collapse into one request.
type SessionController struct {
	api          *APIClient
	store        *MessageStore
	timer        *SessionTimer
	onUpdate     func()
	duration     int
	pollInterval time.Duration

	mu         sync.Mutex
	phase      Phase
	channel    *RealtimeChannel
	code       string
	codeInfo   *CodeInfo
	session    *Session
	evaluation *Evaluation
	connState  ConnectionState
	lastError  string

	validating bool
	starting   bool
	sending    bool
	ending     bool
	polling    bool
}

func NewSessionController(cfg ControllerConfig) *SessionController {
	if cfg.SessionSeconds <= 0 {
		cfg.SessionSeconds = 300
	}
	c := &SessionController{
		api:          cfg.API,
		store:        NewMessageStore(),
		onUpdate:     cfg.OnUpdate,
		duration:     cfg.SessionSeconds,
		pollInterval: 2 * time.Second,
		phase:        PhaseCodeEntry,
		connState:    StateIdle,
	}
	c.timer = NewSessionTimer(
		func(int) { c.notify() },
		c.handleExpiry,
	)
	return c
}

// ValidateCode checks the training code and, when valid, advances to name
// entry.
func (c *SessionController) ValidateCode(ctx context.Context, code string) error {
	c.mu.Lock()
	if c.phase != PhaseCodeEntry {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	if c.validating {
		c.mu.Unlock()
		return ErrBusy
	}
	c.validating = true
	c.mu.Unlock()

	defer c.clearFlag(&c.validating)

	info, err := c.api.ValidateCode(ctx, code)
	if err != nil {
		c.setError(err)
		return err
	}

	c.mu.Lock()
	c.code = code
	c.codeInfo = info
	c.phase = PhaseNameEntry
	c.lastError = ""
	c.mu.Unlock()
	c.notify()
	return nil
}

// StartSession redeems the code under the candidate's name, opens the realtime
// channel and starts the countdown. The server's welcome message seeds the
// transcript.
func (c *SessionController) StartSession(ctx context.Context, candidateName string) error {
	c.mu.Lock()
	if c.phase != PhaseNameEntry {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	if c.starting {
		c.mu.Unlock()
		return ErrBusy
	}
	c.starting = true
	code := c.code
	c.mu.Unlock()

	defer c.clearFlag(&c.starting)

	result, err := c.api.StartSession(ctx, code, candidateName)
	if err != nil {
		c.setError(err)
		return err
	}

	channel := NewRealtimeChannel(RealtimeConfig{
		URL:            c.api.WebsocketURL(result.Session.ID),
		OnMessage:      c.handleRealtimeMessage,
		OnSessionEnded: c.handleRemoteEnd,
		OnStateChange:  c.handleConnectionChange,
	})

	c.mu.Lock()
	c.session = &result.Session
	c.channel = channel
	c.phase = PhaseChatting
	c.lastError = ""
	c.mu.Unlock()

	c.store.Merge([]Message{result.WelcomeMessage})
	channel.Connect()
	c.timer.Start(c.duration)
	c.notify()

	slog.Info("Training session started", "session_id", result.Session.ID)
	return nil
}

// SendMessage appends the candidate's message optimistically, posts it, and
// reconciles the server's copy (plus the AI reply) into the store. On AI
// failure the candidate message stays; only the reply is missing. On a hard
// send failure the optimistic echo is removed so the transcript matches the
// server.
func (c *SessionController) SendMessage(ctx context.Context, content string) error {
	c.mu.Lock()
	if c.phase != PhaseChatting {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	if c.sending {
		c.mu.Unlock()
		return ErrBusy
	}
	c.sending = true
	sessionID := c.session.ID
	c.mu.Unlock()

	defer c.clearFlag(&c.sending)

	echo := Message{
		ID:        "local-" + uuid.NewString(),
		SessionID: sessionID,
		Sender:    SenderCandidate,
		Content:   content,
		SentAt:    time.Now(),
		Pending:   true,
	}
	c.store.Append(echo)
	c.notify()

	result, err := c.api.SendMessage(ctx, sessionID, content)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == ErrCodeAIFailure && result != nil {
			// Candidate message persisted; reconcile it and surface the miss
			c.store.Merge([]Message{result.Message})
			c.setError(err)
			return err
		}
		c.store.Remove(echo.ID)
		c.setError(err)
		return err
	}

	confirmed := []Message{result.Message}
	if result.AIReply != nil {
		confirmed = append(confirmed, *result.AIReply)
	}
	c.store.Merge(confirmed)

	c.mu.Lock()
	c.lastError = ""
	c.mu.Unlock()
	c.notify()
	return nil
}

// End terminates the session: stops the countdown, closes the realtime channel
// and fetches the evaluation. Safe to call from the end button, the expired
// timer and the server's end event at once; the first caller through wins and
// the rest observe the Ended phase.
func (c *SessionController) End(ctx context.Context) error {
	c.mu.Lock()
	if c.phase == PhaseEnded {
		c.mu.Unlock()
		return nil
	}
	if c.phase != PhaseChatting {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	if c.ending {
		c.mu.Unlock()
		return ErrBusy
	}
	c.ending = true
	sessionID := c.session.ID
	channel := c.channel
	c.mu.Unlock()

	defer c.clearFlag(&c.ending)

	c.timer.Stop()
	if channel != nil {
		channel.Disconnect()
	}

	// Server-side termination is idempotent, so a concurrent trigger racing
	// this call still yields one evaluation
	eval, err := c.api.EndSession(ctx, sessionID)
	if err != nil {
		c.setError(err)
		// The session may be ended server-side even when our request failed;
		// settle into Ended so the UI never hangs in a live chat, and keep
		// polling for the evaluation the server still holds
		c.mu.Lock()
		c.phase = PhaseEnded
		c.mu.Unlock()
		c.notify()
		c.startEvaluationPoll(sessionID)
		return err
	}

	c.mu.Lock()
	c.evaluation = eval
	c.phase = PhaseEnded
	c.lastError = ""
	c.mu.Unlock()
	c.notify()

	slog.Info("Training session ended", "session_id", sessionID, "score", eval.Score)
	return nil
}

// startEvaluationPoll fetches the stored evaluation until it is ready, so the
// Ended screen's loading indicator always resolves even when the end request
// itself failed. Single-flight; gives up after a bounded number of attempts.
func (c *SessionController) startEvaluationPoll(sessionID string) {
	c.mu.Lock()
	if c.polling || c.evaluation != nil {
		c.mu.Unlock()
		return
	}
	c.polling = true
	c.mu.Unlock()

	go func() {
		defer c.clearFlag(&c.polling)

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for attempt := 0; attempt < 30; attempt++ {
			<-ticker.C

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			eval, err := c.api.FetchEvaluation(ctx, sessionID)
			cancel()
			if err != nil {
				continue
			}
			if eval == nil {
				// Scoring still pending server-side
				continue
			}

			c.mu.Lock()
			c.evaluation = eval
			c.lastError = ""
			c.mu.Unlock()
			c.notify()
			return
		}
		slog.Warn("Evaluation never became available", "session_id", sessionID)
	}()
}

// RefreshMessages is the manual resync action: refetch the full transcript,
// reconcile it into the store and force the realtime channel to redial
// bypassing any backoff.
func (c *SessionController) RefreshMessages(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseChatting {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	sessionID := c.session.ID
	channel := c.channel
	c.mu.Unlock()

	messages, err := c.api.FetchMessages(ctx, sessionID)
	if err != nil {
		c.setError(err)
		return err
	}
	c.store.Merge(messages)

	if channel != nil {
		channel.ClearCache()
		channel.ForceReconnect()
	}
	c.notify()
	return nil
}

// Close releases the controller's resources without ending the session
// server-side.
func (c *SessionController) Close() {
	c.timer.Stop()
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()
	if channel != nil {
		channel.Disconnect()
	}
}

// Accessors

func (c *SessionController) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *SessionController) Messages() []Message {
	return c.store.Messages()
}

// Remaining reports the countdown in whole seconds, never negative.
func (c *SessionController) Remaining() int {
	return c.timer.Remaining()
}

func (c *SessionController) Evaluation() *Evaluation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evaluation
}

func (c *SessionController) ConnectionState() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// CodeInfo returns the validated code's persona summary, nil before
// validation.
func (c *SessionController) CodeInfo() *CodeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codeInfo
}

func (c *SessionController) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.ID
}

// LastError returns the most recent action error message, empty after a
// successful action.
func (c *SessionController) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Callbacks

func (c *SessionController) handleRealtimeMessage(msg Message) {
	c.store.Merge([]Message{msg})
	c.notify()
}

// handleRemoteEnd reacts to the server announcing termination, e.g. the
// server-side watchdog beating the local countdown.
func (c *SessionController) handleRemoteEnd() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.End(ctx); err != nil && !errors.Is(err, ErrBusy) {
			slog.Error("Failed to settle remotely ended session", "error", err)
		}
	}()
}

// handleExpiry runs when the countdown hits zero. Fires at most once per
// timer start.
func (c *SessionController) handleExpiry() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.End(ctx); err != nil && !errors.Is(err, ErrBusy) {
			slog.Error("Failed to end expired session", "error", err)
		}
	}()
}

func (c *SessionController) handleConnectionChange(state ConnectionState) {
	c.mu.Lock()
	c.connState = state
	c.mu.Unlock()
	c.notify()
}

// Internal helpers

func (c *SessionController) clearFlag(flag *bool) {
	c.mu.Lock()
	*flag = false
	c.mu.Unlock()
}

func (c *SessionController) setError(err error) {
	c.mu.Lock()
	c.lastError = fmt.Sprintf("%v", err)
	c.mu.Unlock()
	c.notify()
}

func (c *SessionController) notify() {
	if c.onUpdate != nil {
		c.onUpdate()
	}
}
