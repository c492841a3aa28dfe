package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Harols34/reclutamientoconvertia-sub000/models"
)

func registerTestClient(h *Hub, sessionID string) *Client {
	client := &Client{
		Hub:       h,
		Send:      make(chan []byte, 8),
		SessionID: sessionID,
	}
	h.register <- client
	return client
}

func waitForSubscribers(t *testing.T, h *Hub, sessionID string, want int) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if h.SubscriberCount(sessionID) == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("subscriber count for %s never reached %d", sessionID, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func receiveEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case payload := <-c.Send:
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("invalid event payload: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func TestHubDeliversMessagesToSessionSubscribers(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	subscriber := registerTestClient(hub, "session-a")
	other := registerTestClient(hub, "session-b")
	waitForSubscribers(t, hub, "session-a", 1)
	waitForSubscribers(t, hub, "session-b", 1)

	msg := &models.TrainingMessage{
		ID:        "msg-1",
		SessionID: "session-a",
		Sender:    models.SenderAI,
		Content:   "Hola, cuéntame más",
		SentAt:    time.Now(),
	}
	hub.PublishMessage(msg)

	ev := receiveEvent(t, subscriber)
	if ev.Type != EventMessage {
		t.Errorf("event type = %q, want %q", ev.Type, EventMessage)
	}
	if ev.Message == nil || ev.Message.ID != "msg-1" {
		t.Errorf("event message = %+v, want id msg-1", ev.Message)
	}

	select {
	case payload := <-other.Send:
		t.Errorf("client in another session received %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubSessionEndedEvent(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	subscriber := registerTestClient(hub, "session-a")
	waitForSubscribers(t, hub, "session-a", 1)

	hub.PublishSessionEnded("session-a")

	ev := receiveEvent(t, subscriber)
	if ev.Type != EventSessionEnded {
		t.Errorf("event type = %q, want %q", ev.Type, EventSessionEnded)
	}
	if ev.Message != nil {
		t.Errorf("session-ended event carried a message: %+v", ev.Message)
	}
}

func TestHubUnregisterClosesSendChannel(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	subscriber := registerTestClient(hub, "session-a")
	waitForSubscribers(t, hub, "session-a", 1)

	hub.unregister <- subscriber
	waitForSubscribers(t, hub, "session-a", 0)

	select {
	case _, ok := <-subscriber.Send:
		if ok {
			t.Error("expected closed send channel after unregister")
		}
	case <-time.After(time.Second):
		t.Error("send channel not closed after unregister")
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	slow := &Client{
		Hub:       hub,
		Send:      make(chan []byte), // unbuffered and never drained
		SessionID: "session-a",
	}
	hub.register <- slow
	waitForSubscribers(t, hub, "session-a", 1)

	hub.PublishSessionEnded("session-a")
	waitForSubscribers(t, hub, "session-a", 0)
}
