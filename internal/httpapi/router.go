// Package httpapi wires the control plane's REST surface: policy check,
// policy lifecycle, upgrade approval, audit query, and operational
// endpoints, behind the shared middleware stack.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sentineltrust/controlplane/internal/audit"
	"github.com/sentineltrust/controlplane/internal/checkservice"
	"github.com/sentineltrust/controlplane/internal/config"
	"github.com/sentineltrust/controlplane/internal/httputil"
	"github.com/sentineltrust/controlplane/internal/logging"
	"github.com/sentineltrust/controlplane/internal/metrics"
	"github.com/sentineltrust/controlplane/internal/middleware"
	"github.com/sentineltrust/controlplane/internal/multisig"
	"github.com/sentineltrust/controlplane/internal/policy"
	"github.com/sentineltrust/controlplane/internal/promotion"
	"github.com/sentineltrust/controlplane/internal/signer"
)

// Deps bundles everything the router needs to build handlers.
type Deps struct {
	Config      *config.Config
	Logger      *logging.Logger
	Metrics     *metrics.Metrics
	Checker     *checkservice.Service
	Policies    *policy.Registry
	Audit       *audit.Chain
	Signers     *signer.Registry
	Multisig    *multisig.Controller
	Promotions  *promotion.Orchestrator
	JWTSecret   []byte
	RateLimiter *middleware.RateLimiter
}

// NewRouter builds the full chi.Router for a sentinelserver process.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.Tracing(d.Logger))
	r.Use(middleware.SecurityHeaders(middleware.DefaultSecurityHeaders()))

	h := &handlers{deps: d}

	r.Get("/health", h.health)
	r.Get("/ready", h.ready)
	r.Handle("/metrics", promhttp.Handler())

	devSkip := d.Config != nil && d.Config.Env == config.Development
	rbacHeader := "x-sentinel-roles"
	if d.Config != nil {
		rbacHeader = d.Config.RBACHeader
	}

	r.Group(func(api chi.Router) {
		api.Use(middleware.PrincipalAuth(d.JWTSecret, rbacHeader, devSkip))
		if d.RateLimiter != nil {
			api.Use(d.RateLimiter.Handler)
		}

		api.Post("/check", h.check)

		api.Route("/policy", func(pr chi.Router) {
			pr.Get("/", h.listPolicies)
			pr.With(middleware.RequireRole("policy-author")).Post("/", h.createPolicy)
			pr.Get("/{id}", h.getPolicy)
			pr.With(middleware.RequireRole("policy-approver")).Post("/{id}/transition", h.transitionPolicy)
		})

		api.Route("/upgrade", func(ur chi.Router) {
			ur.With(middleware.RequireRole("upgrade-submitter")).Post("/", h.submitUpgrade)
			ur.Get("/{id}", h.getUpgrade)
			ur.With(middleware.RequireRole("upgrade-approver")).Post("/{id}/approve", h.approveUpgrade)
			ur.With(middleware.RequireRole("upgrade-approver")).Post("/{id}/apply", h.applyUpgrade)
			ur.With(middleware.RequireRole("upgrade-approver")).Post("/{id}/reject", h.rejectUpgrade)
		})

		api.Route("/promotion", func(pmr chi.Router) {
			pmr.With(middleware.RequireRole("promotion-requester")).Post("/", h.promote)
		})

		api.Route("/audit", func(ar chi.Router) {
			ar.With(middleware.RequireRole("auditor")).Post("/", h.appendAudit)
			ar.Get("/{id}", h.getAuditEvent)
			ar.Post("/search", h.searchAudit)
			ar.With(middleware.RequireRole("auditor")).Get("/verify", h.verifyAudit)
		})
	})

	return r
}

type handlers struct {
	deps Deps
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	report := h.deps.Signers.Probe(ctx)
	status := http.StatusOK
	if !report.Ready {
		status = http.StatusServiceUnavailable
	}

	backendStatus := make(map[string]string, len(report.Backends))
	for name, berr := range report.Backends {
		if berr == nil {
			backendStatus[name] = "ok"
		} else {
			backendStatus[name] = berr.Error()
		}
	}

	hostStats := map[string]interface{}{}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		hostStats["cpu_percent"] = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		hostStats["mem_used_percent"] = vm.UsedPercent
	}

	httputil.WriteJSON(w, status, map[string]interface{}{
		"signers": backendStatus,
		"ready":   report.Ready,
		"host":    hostStats,
	})
}
