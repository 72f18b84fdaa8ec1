// Package metrics provides Prometheus metrics collection for the control
// plane services.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector exposed by the control plane.
type Metrics struct {
	// HTTP
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Errors
	ErrorsTotal *prometheus.CounterVec

	// Audit chain
	AuditAppendsTotal     *prometheus.CounterVec
	AuditAppendDuration   prometheus.Histogram
	AuditChainLength       prometheus.Gauge
	AuditVerifyFailures    prometheus.Counter

	// Policy evaluation
	PolicyDecisionsTotal *prometheus.CounterVec
	PolicyEvalDuration   *prometheus.HistogramVec
	CanarySamplesTotal   *prometheus.CounterVec
	RollbacksTotal       *prometheus.CounterVec

	// Multisig / promotion
	ApprovalsTotal   *prometheus.CounterVec
	PromotionsTotal  *prometheus.CounterVec

	// Signer
	SignerOperationsTotal *prometheus.CounterVec
	SignerReady           *prometheus.GaugeVec

	// Database
	DatabaseQueriesTotal    *prometheus.CounterVec
	DatabaseQueryDuration   *prometheus.HistogramVec
	DatabaseConnectionsOpen prometheus.Gauge

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer.
// A nil registerer skips registration, useful in tests that construct
// multiple instances in the same process.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Total number of HTTP requests"},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight", Help: "Current number of HTTP requests being processed",
		}),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "errors_total", Help: "Total number of errors"},
			[]string{"service", "kind", "operation"},
		),

		AuditAppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "audit_appends_total", Help: "Total audit chain append attempts"},
			[]string{"status"},
		),
		AuditAppendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_append_duration_seconds",
			Help:    "Audit chain append duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		AuditChainLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audit_chain_length", Help: "Current length of the audit hash chain",
		}),
		AuditVerifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_verify_failures_total", Help: "Total audit chain verification failures detected",
		}),

		PolicyDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "policy_decisions_total", Help: "Total policy evaluation decisions"},
			[]string{"policy_id", "decision", "enforced"},
		),
		PolicyEvalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "policy_eval_duration_seconds",
				Help:    "Policy evaluation duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
			},
			[]string{"policy_id"},
		),
		CanarySamplesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "canary_samples_total", Help: "Total requests sampled into a canary rollout"},
			[]string{"policy_id", "in_canary"},
		),
		RollbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "canary_rollbacks_total", Help: "Total automated canary rollbacks triggered"},
			[]string{"policy_id"},
		),

		ApprovalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "approvals_total", Help: "Total approvals recorded against multisig requests"},
			[]string{"subject_type", "status"},
		),
		PromotionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "promotions_total", Help: "Total artifact promotion attempts"},
			[]string{"status"},
		),

		SignerOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "signer_operations_total", Help: "Total signer backend operations"},
			[]string{"backend", "operation", "status"},
		),
		SignerReady: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "signer_ready", Help: "Whether a signer backend is currently ready (1) or not (0)"},
			[]string{"backend"},
		),

		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "database_queries_total", Help: "Total number of database queries"},
			[]string{"operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		DatabaseConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "database_connections_open", Help: "Current number of open database connections",
		}),

		ServiceUptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "service_uptime_seconds", Help: "Service uptime in seconds",
		}),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "service_info", Help: "Service build information"},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal, m.RequestDuration, m.RequestsInFlight,
			m.ErrorsTotal,
			m.AuditAppendsTotal, m.AuditAppendDuration, m.AuditChainLength, m.AuditVerifyFailures,
			m.PolicyDecisionsTotal, m.PolicyEvalDuration, m.CanarySamplesTotal, m.RollbacksTotal,
			m.ApprovalsTotal, m.PromotionsTotal,
			m.SignerOperationsTotal, m.SignerReady,
			m.DatabaseQueriesTotal, m.DatabaseQueryDuration, m.DatabaseConnectionsOpen,
			m.ServiceUptime, m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "0.1.0", "unknown").Set(1)
	return m
}

func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordError(service, kind, operation string) {
	m.ErrorsTotal.WithLabelValues(service, kind, operation).Inc()
}

func (m *Metrics) RecordAuditAppend(status string, duration time.Duration) {
	m.AuditAppendsTotal.WithLabelValues(status).Inc()
	m.AuditAppendDuration.Observe(duration.Seconds())
}

func (m *Metrics) SetAuditChainLength(n int64) { m.AuditChainLength.Set(float64(n)) }

func (m *Metrics) RecordAuditVerifyFailure() { m.AuditVerifyFailures.Inc() }

func (m *Metrics) RecordPolicyDecision(policyID, decision string, enforced bool, duration time.Duration) {
	m.PolicyDecisionsTotal.WithLabelValues(policyID, decision, boolLabel(enforced)).Inc()
	m.PolicyEvalDuration.WithLabelValues(policyID).Observe(duration.Seconds())
}

func (m *Metrics) RecordCanarySample(policyID string, inCanary bool) {
	m.CanarySamplesTotal.WithLabelValues(policyID, boolLabel(inCanary)).Inc()
}

func (m *Metrics) RecordRollback(policyID string) {
	m.RollbacksTotal.WithLabelValues(policyID).Inc()
}

func (m *Metrics) RecordApproval(subjectType, status string) {
	m.ApprovalsTotal.WithLabelValues(subjectType, status).Inc()
}

func (m *Metrics) RecordPromotion(status string) {
	m.PromotionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordSignerOperation(backend, operation, status string) {
	m.SignerOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

func (m *Metrics) SetSignerReady(backend string, ready bool) {
	v := 0.0
	if ready {
		v = 1.0
	}
	m.SignerReady.WithLabelValues(backend).Set(v)
}

func (m *Metrics) RecordDatabaseQuery(operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) SetDatabaseConnections(count int) { m.DatabaseConnectionsOpen.Set(float64(count)) }

func (m *Metrics) UpdateUptime(start time.Time) { m.ServiceUptime.Set(time.Since(start).Seconds()) }

func (m *Metrics) IncrementInFlight() { m.RequestsInFlight.Inc() }
func (m *Metrics) DecrementInFlight() { m.RequestsInFlight.Dec() }

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

var (
	global   *Metrics
	globalMu sync.Mutex
)

// Init initializes and returns the global Metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(serviceName)
	}
	return global
}

// Global returns the global Metrics instance, creating a default one if Init
// was never called.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New("sentinel")
	}
	return global
}
