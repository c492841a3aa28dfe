package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Harols34/reclutamientoconvertia-sub000/models"
)

type fakeConcluder struct {
	mu        sync.Mutex
	concluded []string
	err       error
}

func (f *fakeConcluder) ConcludeSession(ctx context.Context, sessionID, reason string) (*models.Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.concluded = append(f.concluded, sessionID)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Evaluation{Score: NeutralScore, Feedback: NeutralFeedback}, nil
}

func (f *fakeConcluder) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.concluded...)
}

func TestWatchdogSweepConcludesExpiredSessions(t *testing.T) {
	concluder := &fakeConcluder{}
	watchdog := NewSessionWatchdog(concluder, 5*time.Minute)

	start := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	watchdog.Register("expired-session", start)
	watchdog.Register("active-session", start.Add(3*time.Minute))

	watchdog.Sweep(start.Add(5*time.Minute + time.Second))

	calls := concluder.calls()
	if len(calls) != 1 || calls[0] != "expired-session" {
		t.Fatalf("concluded = %v, want [expired-session]", calls)
	}
	if watchdog.Tracked("expired-session") {
		t.Error("expired session still tracked after sweep")
	}
	if !watchdog.Tracked("active-session") {
		t.Error("active session dropped by sweep")
	}
}

func TestWatchdogSweepBeforeDeadlineDoesNothing(t *testing.T) {
	concluder := &fakeConcluder{}
	watchdog := NewSessionWatchdog(concluder, 5*time.Minute)

	start := time.Now()
	watchdog.Register("session-1", start)

	watchdog.Sweep(start.Add(4 * time.Minute))

	if calls := concluder.calls(); len(calls) != 0 {
		t.Fatalf("concluded = %v, want none", calls)
	}
	if !watchdog.Tracked("session-1") {
		t.Error("session dropped before its deadline")
	}
}

func TestWatchdogRemoveIsIdempotent(t *testing.T) {
	watchdog := NewSessionWatchdog(&fakeConcluder{}, time.Minute)

	watchdog.Register("session-1", time.Now())
	watchdog.Remove("session-1")
	watchdog.Remove("session-1")

	if watchdog.Tracked("session-1") {
		t.Error("session still tracked after remove")
	}
}

func TestWatchdogSweepRemovesSessionEvenWhenConcludeFails(t *testing.T) {
	// A failing conclusion must not wedge the sweep loop on the same session
	concluder := &fakeConcluder{err: errors.New("db down")}
	watchdog := NewSessionWatchdog(concluder, time.Minute)

	start := time.Now().Add(-2 * time.Minute)
	watchdog.Register("session-1", start)
	watchdog.Sweep(time.Now())

	if watchdog.Tracked("session-1") {
		t.Error("session still tracked after failed conclusion")
	}
}

func TestWatchdogStopIsIdempotent(t *testing.T) {
	watchdog := NewSessionWatchdog(&fakeConcluder{}, time.Minute)
	watchdog.Start()
	watchdog.Stop()
	watchdog.Stop()
}
