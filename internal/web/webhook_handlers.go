package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dkrish7/osprey/internal/webhook"
	"github.com/dkrish7/osprey/model"
)

// registeredWebhook is the create response: the only place the secret is
// ever returned.
type registeredWebhook struct {
	*model.Webhook
	Secret string `json:"secret"`
}

func (s *Server) registerWebhook(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	var req webhook.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}

	hook, err := s.hooks.Register(r.Context(), caller.userID, req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, registeredWebhook{Webhook: hook, Secret: hook.Secret})
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	hooks, err := s.hooks.List(r.Context(), caller.userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if hooks == nil {
		hooks = []*model.Webhook{}
	}
	writeJSON(w, http.StatusOK, hooks)
}

func (s *Server) webhookDeliveries(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid webhook id"})
		return
	}
	deliveries, err := s.hooks.Deliveries(r.Context(), caller.userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if deliveries == nil {
		deliveries = []*model.WebhookDelivery{}
	}
	writeJSON(w, http.StatusOK, deliveries)
}

func (s *Server) testWebhook(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid webhook id"})
		return
	}
	hook, err := s.hooks.Get(r.Context(), caller.userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	delivery, err := s.dispatcher.Test(r.Context(), hook)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, delivery)
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid webhook id"})
		return
	}
	if err := s.hooks.Delete(r.Context(), caller.userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
