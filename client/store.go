package client

import (
	"sort"
	"sync"
	"time"
)

// reconcileWindow bounds how far apart in time a pending local echo and its
// persisted copy may be and still be treated as the same message.
const reconcileWindow = time.Minute

type storedMessage struct {
	msg     Message
	arrival int // insertion counter, breaks sent_at ties stably
}

// MessageStore is the authoritative, ordered, duplicate-free view of a
// session's messages. It is mutated from two sources (optimistic local append
// and realtime merge) and both go through the same dedup rule:
//
//  1. identifier first: a message whose ID is already present is dropped;
//  2. content fallback: a persisted candidate message that matches a pending
//     local echo by sender and content, with sent_at within reconcileWindow,
//     replaces that echo in place instead of adding a second bubble.
//
// Ordering is strictly sent_at ascending with arrival order breaking ties.
// The store performs no network or timer side effects.
type MessageStore struct {
	mu      sync.Mutex
	byID    map[string]*storedMessage
	arrival int
}

func NewMessageStore() *MessageStore {
	return &MessageStore{byID: make(map[string]*storedMessage)}
}

// Append adds a single message, typically the optimistic local echo of a send.
// A message with an already-known ID is ignored. Returns the ordered snapshot.
func (s *MessageStore) Append(msg Message) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insert(msg)
	return s.snapshot()
}

// Merge folds a batch of messages (initial load, resync, or a live event) into
// the store and returns the new ordered total. Previously known messages are
// never lost and no identifier appears twice.
func (s *MessageStore) Merge(incoming []Message) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range incoming {
		s.insert(msg)
	}
	return s.snapshot()
}

func (s *MessageStore) insert(msg Message) {
	if _, exists := s.byID[msg.ID]; exists {
		return
	}

	// A persisted copy of an optimistically rendered message arrives under a
	// different ID; swap it into the echo's slot instead of duplicating.
	if !msg.Pending {
		if echo := s.matchPending(msg); echo != nil {
			delete(s.byID, echo.msg.ID)
			echo.msg = msg
			s.byID[msg.ID] = echo
			return
		}
	}

	s.arrival++
	s.byID[msg.ID] = &storedMessage{msg: msg, arrival: s.arrival}
}

// matchPending finds the earliest pending echo that the persisted message
// plausibly confirms: same sender, identical content, sent within the window.
func (s *MessageStore) matchPending(msg Message) *storedMessage {
	var match *storedMessage
	for _, stored := range s.byID {
		if !stored.msg.Pending {
			continue
		}
		if stored.msg.Sender != msg.Sender || stored.msg.Content != msg.Content {
			continue
		}
		delta := msg.SentAt.Sub(stored.msg.SentAt)
		if delta < 0 {
			delta = -delta
		}
		if delta > reconcileWindow {
			continue
		}
		if match == nil || stored.arrival < match.arrival {
			match = stored
		}
	}
	return match
}

// Messages returns the ordered snapshot: sent_at ascending, stable on ties.
func (s *MessageStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Len reports how many distinct messages the store holds.
func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// HasPending reports whether any optimistic echo is still unconfirmed.
func (s *MessageStore) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stored := range s.byID {
		if stored.msg.Pending {
			return true
		}
	}
	return false
}

// Remove drops a message by ID, typically an optimistic echo whose send failed
// outright. Reports whether the ID was present.
func (s *MessageStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	return true
}

// Clear drops every message, used before repopulating from a full refetch.
func (s *MessageStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*storedMessage)
	s.arrival = 0
}

func (s *MessageStore) snapshot() []Message {
	ordered := make([]*storedMessage, 0, len(s.byID))
	for _, stored := range s.byID {
		ordered = append(ordered, stored)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].msg.SentAt.Equal(ordered[j].msg.SentAt) {
			return ordered[i].arrival < ordered[j].arrival
		}
		return ordered[i].msg.SentAt.Before(ordered[j].msg.SentAt)
	})

	out := make([]Message, len(ordered))
	for i, stored := range ordered {
		out[i] = stored.msg
	}
	return out
}
