// Package chat exposes the session and message HTTP surface.
package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/havenline/haven/backend/internal/middleware"
	chatmodel "github.com/havenline/haven/backend/internal/model/chat"
	"github.com/havenline/haven/backend/internal/service/orchestrator"
	"github.com/havenline/haven/backend/internal/service/session"
	"github.com/havenline/haven/backend/pkg/utils"
)

// Handler serves the request/response chat channel.
type Handler struct {
	sessions *session.Service
	orch     *orchestrator.Orchestrator
}

// New creates the chat handler.
func New(sessions *session.Service, orch *orchestrator.Orchestrator) *Handler {
	return &Handler{sessions: sessions, orch: orch}
}

// RegisterRoutes mounts the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleCloseSession)
	r.Post("/sessions/{sessionID}/messages", h.handleSendMessage)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var payload struct {
		Locale string `json:"locale"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.sessions.Create(r.Context(), userID, payload.Locale)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	sess, err := h.sessions.Load(r.Context(), chi.URLParam(r, "sessionID"), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	closed, err := h.sessions.Close(r.Context(), chi.URLParam(r, "sessionID"), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, closed)
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var payload struct {
		Content         string `json:"content"`
		Kind            string `json:"kind"`
		ClientMessageID string `json:"clientMessageId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := h.orch.HandleMessage(r.Context(), orchestrator.Inbound{
		SessionID:       chi.URLParam(r, "sessionID"),
		UserID:          userID,
		Content:         payload.Content,
		Kind:            chatmodel.Kind(payload.Kind),
		ClientMessageID: payload.ClientMessageID,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, outcome)
}

// respondServiceError maps service sentinels onto the HTTP taxonomy.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrForbidden):
		utils.RespondError(w, http.StatusForbidden, "session belongs to another user")
	case errors.Is(err, session.ErrClosed):
		utils.RespondError(w, http.StatusConflict, "session is closed")
	default:
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
