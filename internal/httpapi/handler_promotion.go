package httpapi

import (
	"net/http"

	"github.com/sentineltrust/controlplane/internal/httputil"
	"github.com/sentineltrust/controlplane/internal/promotion"
)

type promoteRequest struct {
	ArtifactRef          string   `json:"artifact_ref"`
	Environment          string   `json:"environment"`
	Pool                 string   `json:"pool"`
	Delta                float64  `json:"delta"`
	Score                float64  `json:"score"`
	IdempotencyKey       string   `json:"idempotency_key"`
	MultisigThresholdSet []string `json:"multisig_threshold_set,omitempty"`
}

func (h *handlers) promote(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	candidate := promotion.Candidate{
		ArtifactRef:          req.ArtifactRef,
		Environment:          req.Environment,
		Evaluation:           promotion.Evaluation{Pool: req.Pool, Delta: req.Delta, Score: req.Score},
		IdempotencyKey:       req.IdempotencyKey,
		MultisigThresholdSet: req.MultisigThresholdSet,
	}
	p, err := h.deps.Promotions.Promote(r.Context(), candidate)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}
