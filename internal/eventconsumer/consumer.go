package eventconsumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sentineltrust/controlplane/internal/checkservice"
	"github.com/sentineltrust/controlplane/internal/logging"
	"github.com/sentineltrust/controlplane/internal/metrics"
)

// AuditAppender is the narrow audit.Chain surface Consumer needs.
type AuditAppender interface {
	Append(ctx context.Context, eventType string, payload map[string]interface{}) (id, hash string, ts time.Time, err error)
}

// Checker is the narrow checkservice.Service surface Consumer needs.
type Checker interface {
	Check(ctx context.Context, req checkservice.Request) (checkservice.Decision, error)
}

// Config bounds the Consumer's worker pool.
type Config struct {
	WorkerPoolSize int
}

func DefaultConfig() Config { return Config{WorkerPoolSize: 8} }

// Consumer evaluates audit events asynchronously against the active/canary
// policy set, recording a correlated policy.decision event for every event
// it evaluates.
type Consumer struct {
	source  Source
	checker Checker
	audit   AuditAppender
	metrics *metrics.Metrics
	logger  *logging.Logger
	cfg     Config
}

func New(source Source, checker Checker, audit AuditAppender, m *metrics.Metrics, logger *logging.Logger, cfg Config) *Consumer {
	return &Consumer{source: source, checker: checker, audit: audit, metrics: m, logger: logger, cfg: cfg}
}

// Run blocks consuming from Source until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	p := newPool(ctx, c.cfg.WorkerPoolSize, c.handle)
	defer p.close()

	return c.source.Run(ctx, func(e RawEvent) error {
		p.submit(e)
		return nil
	})
}

func (c *Consumer) handle(ctx context.Context, e RawEvent) {
	action := gjson.GetBytes(e.Payload, "action").String()
	actorRaw := gjson.GetBytes(e.Payload, "actor").Raw
	resourceRaw := gjson.GetBytes(e.Payload, "resource").Raw
	contextRaw := gjson.GetBytes(e.Payload, "context").Raw

	req := checkservice.Request{
		RequestID: e.ID,
		Action:    action,
		Actor:     decodeObject(actorRaw),
		Resource:  decodeObject(resourceRaw),
		Context:   decodeObject(contextRaw),
	}

	decision, err := c.checker.Check(ctx, req)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("event_id", e.ID).Error("check audit event")
		return
	}

	_, _, _, err = c.audit.Append(ctx, "policy.decision", map[string]interface{}{
		"allowed":        decision.Allowed,
		"policy_id":      decision.PolicyID,
		"reason":         decision.Reason,
		"policy_version": decision.PolicyVersion,
		"evidence_refs":  []string{"audit:" + e.ID},
	})
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("event_id", e.ID).Error("append policy.decision")
	}
}

func decodeObject(raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
