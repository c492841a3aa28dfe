package models

import (
	"testing"
	"time"
)

func TestTrainingCodeExpired(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	code := TrainingCode{ExpiresAt: now.Add(time.Hour)}
	if code.Expired(now) {
		t.Error("code expiring in an hour reported expired")
	}
	if !code.Expired(now.Add(2 * time.Hour)) {
		t.Error("past expiry not reported")
	}
}

func TestTrainingSessionActive(t *testing.T) {
	session := TrainingSession{}
	if !session.Active() {
		t.Error("session without ended_at should be active")
	}

	endedAt := time.Now()
	session.EndedAt = &endedAt
	if session.Active() {
		t.Error("ended session reported active")
	}
}
