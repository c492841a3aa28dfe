package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Harols34/reclutamientoconvertia-sub000/models"
)

// SessionConcluder finalizes a session. Implemented by TrainingEndpoints; the
// indirection keeps the watchdog testable without a database.
type SessionConcluder interface {
	ConcludeSession(ctx context.Context, sessionID, reason string) (*models.Evaluation, error)
}

// SessionWatchdog force-ends sessions whose time budget elapsed even when the
// client never sent the end request (closed tab, lost network). The client
// countdown normally fires first; the conditional end update makes the two
// paths converge on exactly one evaluation.
type SessionWatchdog struct {
	concluder SessionConcluder
	duration  time.Duration
	deadlines map[string]time.Time
	mutex     sync.RWMutex
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewSessionWatchdog(concluder SessionConcluder, duration time.Duration) *SessionWatchdog {
	return &SessionWatchdog{
		concluder: concluder,
		duration:  duration,
		deadlines: make(map[string]time.Time),
		stop:      make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called.
func (s *SessionWatchdog) Start() {
	go s.run()
}

func (s *SessionWatchdog) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Register begins tracking a session. The deadline is derived from the
// session's own start time so a server restart mid-session does not extend it.
func (s *SessionWatchdog) Register(sessionID string, startedAt time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.deadlines[sessionID] = startedAt.Add(s.duration)
	slog.Info("Session registered with watchdog", "session_id", sessionID, "deadline", startedAt.Add(s.duration))
}

// Remove stops tracking a session, typically because it ended normally.
func (s *SessionWatchdog) Remove(sessionID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.deadlines[sessionID]; exists {
		delete(s.deadlines, sessionID)
		slog.Info("Session removed from watchdog", "session_id", sessionID)
	}
}

// Tracked reports whether a session is currently being watched.
func (s *SessionWatchdog) Tracked(sessionID string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, ok := s.deadlines[sessionID]
	return ok
}

func (s *SessionWatchdog) run() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(time.Now())
		case <-s.stop:
			return
		}
	}
}

// Sweep concludes every tracked session whose deadline has passed.
func (s *SessionWatchdog) Sweep(now time.Time) {
	s.mutex.RLock()
	var expired []string
	for sessionID, deadline := range s.deadlines {
		if now.After(deadline) {
			expired = append(expired, sessionID)
		}
	}
	s.mutex.RUnlock()

	for _, sessionID := range expired {
		slog.Info("Session time budget elapsed, forcing termination", "session_id", sessionID)
		if _, err := s.concluder.ConcludeSession(context.Background(), sessionID, "time limit reached"); err != nil {
			slog.Error("Watchdog failed to conclude session", "error", err, "session_id", sessionID)
		}
		s.Remove(sessionID)
	}
}
