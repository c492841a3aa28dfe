// Package client implements the candidate-facing training-session core: the
// ordered deduplicated message store, the resilient realtime channel, the
// countdown timer and the session controller composing them. It talks to the
// training API over HTTP and receives persisted messages over websocket.
package client

import "time"

// Message sender roles, mirroring the server transcript model.
const (
	SenderAI        = "ai"
	SenderCandidate = "candidate"
)

// Message is one chat bubble. Pending marks an optimistic local echo carrying
// a temporary client-generated ID; it is reconciled (replaced in place) once
// the persisted copy arrives from either delivery route.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sent_at"`
	Pending   bool      `json:"-"`
}
