// Package crisis exposes the direct alert endpoint and alert lifecycle
// routes.
package crisis

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	analysis "github.com/havenline/haven/backend/internal/analysis/crisis"
	"github.com/havenline/haven/backend/internal/middleware"
	crisismodel "github.com/havenline/haven/backend/internal/model/crisis"
	"github.com/havenline/haven/backend/internal/model/resource"
	crisisservice "github.com/havenline/haven/backend/internal/service/crisis"
	"github.com/havenline/haven/backend/pkg/utils"
)

// Handler serves externally-triggered alerts and alert mutations.
type Handler struct {
	manager   *crisisservice.Manager
	resources resource.Store
}

// New creates the crisis handler.
func New(manager *crisisservice.Manager, resources resource.Store) *Handler {
	return &Handler{manager: manager, resources: resources}
}

// RegisterRoutes mounts alert and resource routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/crisis/alert", h.handleDirectAlert)
	r.Post("/crisis/alerts/{alertID}/status", h.handleUpdateStatus)
	r.Post("/crisis/alerts/{alertID}/interventions", h.handleAddIntervention)
	r.Get("/resources", h.handleListResources)
}

// handleDirectAlert accepts pre-classified triggers. The server re-derives
// risk from the trigger text; the caller's self-reported level can raise
// the result but never lower it.
func (h *Handler) handleDirectAlert(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var payload struct {
		TriggerMessage string   `json:"triggerMessage"`
		RiskLevel      int      `json:"riskLevel"`
		Severity       string   `json:"severity"`
		Signals        []string `json:"signals"`
		Locale         string   `json:"locale"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.TriggerMessage == "" {
		utils.RespondError(w, http.StatusBadRequest, "triggerMessage is required")
		return
	}

	locale := resource.NormalizeLocale(payload.Locale)
	assessment := analysis.Classify(payload.TriggerMessage, locale)

	risk := assessment.RiskLevel
	if payload.RiskLevel > risk && payload.RiskLevel <= analysis.MaxRiskLevel {
		risk = payload.RiskLevel
	}
	if risk < 1 {
		utils.RespondError(w, http.StatusUnprocessableEntity, "no crisis signals in trigger message")
		return
	}

	signals := assessment.Signals
	if len(signals) == 0 {
		signals = payload.Signals
	}

	escalation, err := h.manager.Escalate(r.Context(), crisisservice.EscalationRequest{
		UserID:      userID,
		SessionID:   "direct",
		MessageKey:  uuid.NewString(),
		TriggerText: payload.TriggerMessage,
		RiskLevel:   risk,
		Signals:     signals,
		Locale:      locale,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, escalation)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	if middleware.UserID(r) == "" {
		utils.RespondError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alert, err := h.manager.UpdateStatus(r.Context(), chi.URLParam(r, "alertID"), crisismodel.Status(payload.Status))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleAddIntervention(w http.ResponseWriter, r *http.Request) {
	if middleware.UserID(r) == "" {
		utils.RespondError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var payload struct {
		Type       string `json:"type"`
		Notes      string `json:"notes"`
		Helpful    *bool  `json:"helpful"`
		FollowUpAt string `json:"followUpAt"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Type == "" {
		utils.RespondError(w, http.StatusBadRequest, "type is required")
		return
	}

	alertID := chi.URLParam(r, "alertID")
	alert, err := h.manager.AddIntervention(r.Context(), alertID, crisismodel.Intervention{
		Type:    payload.Type,
		Notes:   payload.Notes,
		Helpful: payload.Helpful,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	if payload.FollowUpAt != "" {
		at, err := time.Parse(time.RFC3339, payload.FollowUpAt)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "followUpAt must be RFC3339")
			return
		}
		alert, err = h.manager.ScheduleFollowUp(r.Context(), alertID, at)
		if err != nil {
			respondServiceError(w, err)
			return
		}
	}
	utils.RespondJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleListResources(w http.ResponseWriter, r *http.Request) {
	locale := r.URL.Query().Get("locale")
	crisisOnly := r.URL.Query().Get("crisis") == "true"
	utils.RespondJSON(w, http.StatusOK, h.resources.ForLocale(locale, crisisOnly, 0))
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, crisisservice.ErrAlertNotFound):
		utils.RespondError(w, http.StatusNotFound, "alert not found")
	case errors.Is(err, crisisservice.ErrInvalidTransition):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, crisisservice.ErrInvalidRisk):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
