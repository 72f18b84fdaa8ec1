package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sentineltrust/controlplane/internal/apperrors"
	"github.com/sentineltrust/controlplane/internal/httputil"
	"github.com/sentineltrust/controlplane/internal/middleware"
	"github.com/sentineltrust/controlplane/internal/multisig"
)

type submitUpgradeRequest struct {
	Target            string                 `json:"target"`
	Payload           map[string]interface{} `json:"payload"`
	RequiredApprovals int                    `json:"required_approvals"`
	ThresholdSet      []string               `json:"threshold_set"`
}

func (h *handlers) submitUpgrade(w http.ResponseWriter, r *http.Request) {
	var req submitUpgradeRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	m, err := h.deps.Multisig.Submit(r.Context(), multisig.Target(req.Target), req.Payload, req.RequiredApprovals, req.ThresholdSet)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, m)
}

func (h *handlers) getUpgrade(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := h.deps.Multisig.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

type approveUpgradeRequest struct {
	ApproverKid string `json:"approver_kid"`
	Signature   string `json:"signature"` // base64
	Notes       string `json:"notes"`
}

func (h *handlers) approveUpgrade(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req approveUpgradeRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		httputil.WriteError(w, r, apperrors.Validation("signature", "must be base64"))
		return
	}
	approverID := middleware.PrincipalID(r.Context())
	m, err := h.deps.Multisig.Approve(r.Context(), id, approverID, req.ApproverKid, sig, req.Notes)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

type applyUpgradeRequest struct {
	ApproverKids map[string]string `json:"approver_kids"`
}

func (h *handlers) applyUpgrade(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req applyUpgradeRequest
	if !httputil.DecodeJSONOptional(w, r, &req) {
		return
	}
	appliedBy := middleware.PrincipalID(r.Context())
	m, err := h.deps.Multisig.Apply(r.Context(), id, appliedBy, func(approverID string) string {
		return req.ApproverKids[approverID]
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

type rejectUpgradeRequest struct {
	Reason string `json:"reason"`
}

func (h *handlers) rejectUpgrade(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req rejectUpgradeRequest
	if !httputil.DecodeJSONOptional(w, r, &req) {
		return
	}
	m, err := h.deps.Multisig.Reject(r.Context(), id, req.Reason)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}
