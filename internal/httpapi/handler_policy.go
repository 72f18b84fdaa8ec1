package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sentineltrust/controlplane/internal/apperrors"
	"github.com/sentineltrust/controlplane/internal/httputil"
	"github.com/sentineltrust/controlplane/internal/middleware"
	"github.com/sentineltrust/controlplane/internal/policy"
)

func (h *handlers) listPolicies(w http.ResponseWriter, r *http.Request) {
	states := []policy.State{policy.StateDraft, policy.StateSimulating, policy.StateCanary, policy.StateActive, policy.StateDeprecated}
	if raw := r.URL.Query().Get("state"); raw != "" {
		states = []policy.State{policy.State(raw)}
	}
	policies, err := h.deps.Policies.List(r.Context(), states)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, policies)
}

func (h *handlers) createPolicy(w http.ResponseWriter, r *http.Request) {
	var p policy.Policy
	if !httputil.DecodeJSON(w, r, &p) {
		return
	}
	if p.Rule != nil {
		if err := p.Rule.Validate(); err != nil {
			httputil.WriteError(w, r, apperrors.Validation("rule", err.Error()))
			return
		}
	}
	editedBy := middleware.PrincipalID(r.Context())
	created, err := h.deps.Policies.Create(r.Context(), p, editedBy)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handlers) getPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.deps.Policies.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handlers) transitionPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		ToState string `json:"to"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	editedBy := middleware.PrincipalID(r.Context())
	p, err := h.deps.Policies.Transition(r.Context(), id, policy.State(body.ToState), editedBy)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}
