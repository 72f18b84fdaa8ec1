package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sentineltrust/controlplane/internal/audit"
	"github.com/sentineltrust/controlplane/internal/httputil"
)

type appendAuditRequest struct {
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
}

func (h *handlers) appendAudit(w http.ResponseWriter, r *http.Request) {
	var req appendAuditRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	id, hash, ts, err := h.deps.Audit.Append(r.Context(), req.EventType, req.Payload)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"id": id, "hash": hash, "timestamp": ts,
	})
}

func (h *handlers) getAuditEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	event, err := h.deps.Audit.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, event)
}

type searchAuditRequest struct {
	TimeMin   time.Time `json:"time_min"`
	EventType string    `json:"event_type,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

func (h *handlers) searchAudit(w http.ResponseWriter, r *http.Request) {
	var req searchAuditRequest
	if !httputil.DecodeJSONOptional(w, r, &req) {
		return
	}
	events, err := h.deps.Audit.Search(r.Context(), audit.SearchQuery{
		TimeMin:   req.TimeMin,
		EventType: req.EventType,
		Limit:     req.Limit,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

func (h *handlers) verifyAudit(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Audit.Verify(r.Context()); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"verified": true})
}
