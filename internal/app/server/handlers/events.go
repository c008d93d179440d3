package handlers

import (
	"encoding/json"
	"net/http"

	"pulsegate/internal/core/domain"
	"pulsegate/internal/core/services"
	"pulsegate/pkg/middleware"
)

// EventsHandler is the ingress for the REST API that originates business
// facts. Each endpoint validates the payload, stamps a missing timestamp,
// and hands off to the dispatch service.
type EventsHandler struct {
	dispatch *services.DispatchService
}

func NewEventsHandler(dispatch *services.DispatchService) *EventsHandler {
	return &EventsHandler{dispatch: dispatch}
}

func (h *EventsHandler) AnswerAdopted(w http.ResponseWriter, r *http.Request) {
	log := middleware.FromContext(r.Context())
	var p domain.AnswerAdoptedPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if p.AnswerID == "" || p.AdopteeID == "" {
		http.Error(w, "answerId and adopteeId are required", http.StatusBadRequest)
		return
	}
	if err := h.dispatch.AnswerAdopted(r.Context(), p); err != nil {
		log.ErrorContext(r.Context(), "events handler - answer adopted dispatch failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *EventsHandler) AnswerReaction(w http.ResponseWriter, r *http.Request) {
	log := middleware.FromContext(r.Context())
	var req struct {
		QuestionID string `json:"questionId"`
		domain.AnswerReactionPayload
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.AnswerID == "" || req.QuestionID == "" {
		http.Error(w, "answerId and questionId are required", http.StatusBadRequest)
		return
	}
	if err := h.dispatch.ReactionUpdated(r.Context(), req.QuestionID, req.AnswerReactionPayload); err != nil {
		log.ErrorContext(r.Context(), "events handler - reaction dispatch failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *EventsHandler) BadgeAwarded(w http.ResponseWriter, r *http.Request) {
	log := middleware.FromContext(r.Context())
	var p domain.BadgeAwardedPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if p.UserID == "" || p.BadgeID == "" {
		http.Error(w, "userId and badgeId are required", http.StatusBadRequest)
		return
	}
	if err := h.dispatch.BadgeAwarded(r.Context(), p); err != nil {
		log.ErrorContext(r.Context(), "events handler - badge dispatch failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
