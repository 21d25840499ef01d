// Package ws upgrades websocket connections and routes their events onto
// the orchestrator and the delivery hub.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/havenline/haven/backend/internal/middleware"
	chatmodel "github.com/havenline/haven/backend/internal/model/chat"
	"github.com/havenline/haven/backend/internal/service/orchestrator"
	"github.com/havenline/haven/backend/internal/service/session"
	wshub "github.com/havenline/haven/backend/internal/ws"
)

const (
	readDeadline = 60 * time.Second
	pingInterval = 25 * time.Second
)

// inboundEvent is the envelope every client event arrives in.
type inboundEvent struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// outgoingEvent mirrors the envelope on the way out.
type outgoingEvent struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connContext is the per-connection state handed to event handlers.
type connContext struct {
	userID string
	sub    *wshub.Subscriber
	joined map[string]bool
}

// eventHandler processes one named client event.
type eventHandler func(ctx context.Context, conn *connContext, data json.RawMessage) error

// Handler owns the websocket endpoint.
type Handler struct {
	orch     *orchestrator.Orchestrator
	sessions *session.Service
	hub      *wshub.Hub
	upgrader websocket.Upgrader
	events   map[string]eventHandler
}

// New builds the handler and its event dispatch table.
func New(orch *orchestrator.Orchestrator, sessions *session.Service, hub *wshub.Hub) *Handler {
	h := &Handler{
		orch:     orch,
		sessions: sessions,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	h.events = map[string]eventHandler{
		"join_session":  h.handleJoin,
		"leave_session": h.handleLeave,
		"send_message":  h.handleSendMessage,
	}
	return h
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleSocket)
}

func (h *Handler) handleSocket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[ws] connection opened user=%s", userID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	state := &connContext{
		userID: userID,
		sub:    wshub.NewSubscriber(conn),
		joined: make(map[string]bool),
	}
	defer h.hub.LeaveAll(state.sub)

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})
	go h.pingLoop(ctx, conn)

	h.send(state, outgoingEvent{Type: "connected"})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var event inboundEvent
			if err := conn.ReadJSON(&event); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[ws] read error user=%s: %v", userID, err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(readDeadline))

			handler, ok := h.events[event.Type]
			if !ok {
				h.sendError(state, "", "unsupported event type: "+event.Type)
				continue
			}
			if err := handler(ctx, state, event.Data); err != nil {
				log.Printf("[ws] event %s user=%s: %v", event.Type, userID, err)
			}
		}
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

type joinPayload struct {
	SessionID string `json:"sessionId"`
}

// handleJoin subscribes the connection to a session it owns.
func (h *Handler) handleJoin(ctx context.Context, conn *connContext, data json.RawMessage) error {
	var payload joinPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" {
		h.sendError(conn, "", "join_session requires sessionId")
		return nil
	}

	if _, err := h.sessions.Load(ctx, payload.SessionID, conn.userID); err != nil {
		h.sendError(conn, payload.SessionID, joinError(err))
		return nil
	}

	h.hub.Join(payload.SessionID, conn.sub)
	conn.joined[payload.SessionID] = true
	h.send(conn, outgoingEvent{Type: "joined", SessionID: payload.SessionID})
	return nil
}

func (h *Handler) handleLeave(_ context.Context, conn *connContext, data json.RawMessage) error {
	var payload joinPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" {
		h.sendError(conn, "", "leave_session requires sessionId")
		return nil
	}

	h.hub.Leave(payload.SessionID, conn.sub)
	delete(conn.joined, payload.SessionID)
	h.send(conn, outgoingEvent{Type: "left", SessionID: payload.SessionID})
	return nil
}

type sendMessagePayload struct {
	SessionID       string `json:"sessionId"`
	Content         string `json:"content"`
	Kind            string `json:"kind"`
	ClientMessageID string `json:"clientMessageId"`
}

// handleSendMessage runs the orchestrator and fans the results out to
// every subscriber of the session. Crisis resources go out before the
// assistant reply so the client never shows a calm answer first.
func (h *Handler) handleSendMessage(ctx context.Context, conn *connContext, data json.RawMessage) error {
	var payload sendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" {
		h.sendError(conn, "", "send_message requires sessionId and content")
		return nil
	}

	outcome, err := h.orch.HandleMessage(ctx, orchestrator.Inbound{
		SessionID:       payload.SessionID,
		UserID:          conn.userID,
		Content:         payload.Content,
		Kind:            chatmodel.Kind(payload.Kind),
		ClientMessageID: payload.ClientMessageID,
	})
	if err != nil {
		h.sendError(conn, payload.SessionID, sendError(err))
		return err
	}

	if outcome.Duplicate {
		// The pair was already broadcast when first processed; answer the
		// retrying sender only.
		h.send(conn, outgoingEvent{Type: "new_message", SessionID: payload.SessionID, Data: outcome.UserMessage})
		h.send(conn, outgoingEvent{Type: "new_message", SessionID: payload.SessionID, Data: outcome.BotMessage})
		return nil
	}

	now := time.Now().UnixMilli()
	h.hub.Broadcast(payload.SessionID, outgoingEvent{
		Type: "new_message", SessionID: payload.SessionID, Data: outcome.UserMessage, Timestamp: now,
	})
	if outcome.Crisis != nil {
		h.hub.Broadcast(payload.SessionID, outgoingEvent{
			Type: "crisis_resources", SessionID: payload.SessionID, Data: outcome.Crisis, Timestamp: now,
		})
	}
	h.hub.Broadcast(payload.SessionID, outgoingEvent{
		Type: "new_message", SessionID: payload.SessionID, Data: outcome.BotMessage, Timestamp: now,
	})
	return nil
}

func (h *Handler) send(conn *connContext, event outgoingEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if err := conn.sub.Send(event); err != nil {
		log.Printf("[ws] send failed user=%s: %v", conn.userID, err)
	}
}

func (h *Handler) sendError(conn *connContext, sessionID, message string) {
	h.send(conn, outgoingEvent{
		Type:      "error",
		SessionID: sessionID,
		Data:      map[string]string{"error": message},
	})
}

func joinError(err error) string {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return "session not found"
	case errors.Is(err, session.ErrForbidden):
		return "session belongs to another user"
	default:
		return "failed to join session"
	}
}

func sendError(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		return err.Error()
	case errors.Is(err, session.ErrNotFound):
		return "session not found"
	case errors.Is(err, session.ErrForbidden):
		return "session belongs to another user"
	case errors.Is(err, session.ErrClosed):
		return "session is closed"
	default:
		return "failed to process message"
	}
}
