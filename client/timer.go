package client

import (
	"sync"
	"time"
)

// SessionTimer drives the fixed-duration countdown of an active session and
// fires the expiry action exactly once when it reaches zero. Remaining never
// reports a negative value. Starting an already-running timer cancels the
// prior run first, so a remounted chat screen cannot leak duplicate timers.
type SessionTimer struct {
	mu        sync.Mutex
	remaining int
	running   bool
	fired     bool
	stop      chan struct{}
	onTick    func(remaining int)
	onExpire  func()
}

func NewSessionTimer(onTick func(remaining int), onExpire func()) *SessionTimer {
	return &SessionTimer{onTick: onTick, onExpire: onExpire}
}

// Start begins counting down from the given number of seconds.
func (t *SessionTimer) Start(seconds int) {
	t.Stop()

	t.mu.Lock()
	if seconds < 0 {
		seconds = 0
	}
	t.remaining = seconds
	t.fired = false
	t.running = true
	t.stop = make(chan struct{})
	stop := t.stop
	t.mu.Unlock()

	go t.run(stop)
}

func (t *SessionTimer) run(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if t.tick() {
				return
			}
		case <-stop:
			return
		}
	}
}

// tick decrements once and reports whether the countdown finished.
func (t *SessionTimer) tick() bool {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return true
	}
	if t.remaining > 0 {
		t.remaining--
	}
	remaining := t.remaining
	expired := remaining == 0 && !t.fired
	if expired {
		t.fired = true
		t.running = false
	}
	onTick := t.onTick
	onExpire := t.onExpire
	t.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if expired {
		if onExpire != nil {
			onExpire()
		}
		return true
	}
	return false
}

// Stop cancels the countdown immediately. No further decrements happen and a
// stopped timer never fires the expiry action late. Idempotent.
func (t *SessionTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}
	t.running = false
	close(t.stop)
}

// Remaining returns the seconds left, never negative.
func (t *SessionTimer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remaining < 0 {
		return 0
	}
	return t.remaining
}

// Running reports whether the countdown is active.
func (t *SessionTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
