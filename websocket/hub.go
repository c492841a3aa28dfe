package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Harols34/reclutamientoconvertia-sub000/models"
	"github.com/gorilla/websocket"
)

// Event types pushed to subscribers
const (
	EventMessage      = "message"
	EventSessionEnded = "session_ended"
)

// Event is the wire format for realtime pushes. Message events carry the
// persisted record so subscribers can dedup by ID and order by SentAt.
type Event struct {
	Type    string                  `json:"type"`
	Message *models.TrainingMessage `json:"message,omitempty"`
}

type publication struct {
	sessionID string
	payload   []byte
}

// Hub fans persisted training messages out to the websocket clients subscribed
// to each session. Delivery is at-least-once from the consumer's perspective;
// clients are expected to deduplicate by message ID.
type Hub struct {
	sessions   map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	publish    chan publication
	mu         sync.RWMutex
}

type Client struct {
	Hub       *Hub
	Conn      *websocket.Conn
	Send      chan []byte
	SessionID string
}

func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publish:    make(chan publication, 64),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.sessions[client.SessionID] == nil {
				h.sessions[client.SessionID] = make(map[*Client]bool)
			}
			h.sessions[client.SessionID][client] = true
			h.mu.Unlock()
			slog.Info("Realtime client registered", "session_id", client.SessionID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.sessions[client.SessionID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.sessions, client.SessionID)
					}
				}
			}
			h.mu.Unlock()
			slog.Info("Realtime client unregistered", "session_id", client.SessionID)

		case pub := <-h.publish:
			h.mu.Lock()
			for client := range h.sessions[pub.sessionID] {
				select {
				case client.Send <- pub.payload:
				default:
					close(client.Send)
					delete(h.sessions[pub.sessionID], client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// RegisterClient subscribes a connection to one session's event stream.
func (h *Hub) RegisterClient(conn *websocket.Conn, sessionID string) *Client {
	client := &Client{
		Hub:       h,
		Conn:      conn,
		Send:      make(chan []byte, 256),
		SessionID: sessionID,
	}

	h.register <- client
	return client
}

// PublishMessage pushes a persisted message to every subscriber of its session.
func (h *Hub) PublishMessage(message *models.TrainingMessage) {
	payload, err := json.Marshal(Event{Type: EventMessage, Message: message})
	if err != nil {
		slog.Error("Failed to marshal message event", "error", err, "message_id", message.ID)
		return
	}
	h.publish <- publication{sessionID: message.SessionID, payload: payload}
}

// PublishSessionEnded notifies subscribers that the session reached its
// terminal state and no further messages will arrive.
func (h *Hub) PublishSessionEnded(sessionID string) {
	payload, err := json.Marshal(Event{Type: EventSessionEnded})
	if err != nil {
		slog.Error("Failed to marshal session-ended event", "error", err, "session_id", sessionID)
		return
	}
	h.publish <- publication{sessionID: sessionID, payload: payload}
}

// SubscriberCount reports how many clients are subscribed to a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Candidate sends travel over the HTTP API; the read side only exists to
	// detect closure and answer pings.
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				slog.Error("WebSocket error", "error", err, "session_id", c.SessionID)
			}
			break
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
