// Package ws holds the connection registry for realtime delivery. The Hub
// is constructed once at startup and handed to the websocket handler; no
// package-level state.
package ws

import (
	"log"
	"sync"
)

// JSONWriter is the slice of the websocket connection the hub needs; tests
// substitute an in-memory implementation.
type JSONWriter interface {
	WriteJSON(v any) error
}

// Subscriber wraps one client connection. Writes are serialized because
// the underlying websocket permits a single concurrent writer.
type Subscriber struct {
	mu   sync.Mutex
	conn JSONWriter
}

// NewSubscriber wraps a connection for hub delivery.
func NewSubscriber(conn JSONWriter) *Subscriber {
	return &Subscriber{conn: conn}
}

// Send writes one payload to the subscriber.
func (s *Subscriber) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Hub tracks which subscribers are joined to which sessions and fans
// payloads out to them. Delivery is best-effort: a failed write drops the
// subscriber, and clients re-fetch history over HTTP on reconnect.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Subscriber]struct{}
}

// NewHub returns an empty registry.
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[*Subscriber]struct{})}
}

// Join subscribes sub to a session's broadcasts.
func (h *Hub) Join(sessionID string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.sessions[sessionID]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		h.sessions[sessionID] = subs
	}
	subs[sub] = struct{}{}
}

// Leave removes sub from one session.
func (h *Hub) Leave(sessionID string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sessionID, sub)
}

// LeaveAll removes sub from every session, used on disconnect.
func (h *Hub) LeaveAll(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID := range h.sessions {
		h.remove(sessionID, sub)
	}
}

func (h *Hub) remove(sessionID string, sub *Subscriber) {
	subs, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.sessions, sessionID)
	}
}

// Broadcast delivers payload to every current subscriber of the session.
func (h *Hub) Broadcast(sessionID string, payload any) {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.sessions[sessionID]))
	for sub := range h.sessions[sessionID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.Send(payload); err != nil {
			log.Printf("[ws] dropping subscriber of session=%s: %v", sessionID, err)
			h.mu.Lock()
			h.remove(sessionID, sub)
			h.mu.Unlock()
		}
	}
}

// SubscriberCount reports how many connections are joined to a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
