package httpapi

import (
	"net/http"

	"github.com/sentineltrust/controlplane/internal/checkservice"
	"github.com/sentineltrust/controlplane/internal/httputil"
)

func (h *handlers) check(w http.ResponseWriter, r *http.Request) {
	var req checkservice.Request
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	decision, err := h.deps.Checker.Check(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision)
}
