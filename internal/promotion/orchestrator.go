package promotion

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sentineltrust/controlplane/internal/apperrors"
	"github.com/sentineltrust/controlplane/internal/checkservice"
	"github.com/sentineltrust/controlplane/internal/metrics"
	"github.com/sentineltrust/controlplane/internal/multisig"
)

// AuditAppender is the narrow audit.Chain surface Orchestrator needs.
type AuditAppender interface {
	Append(ctx context.Context, eventType string, payload map[string]interface{}) (id, hash string, ts time.Time, err error)
}

// CheckerClient is the narrow checkservice.Service surface used to ask
// SentinelNet for an allowed/denied verdict on a candidate promotion.
type CheckerClient interface {
	Check(ctx context.Context, req checkservice.Request) (checkservice.Decision, error)
}

// MultisigSubmitter is the narrow multisig.Controller surface used to gate
// high-severity promotions behind N-of-M sign-off before allocation.
type MultisigSubmitter interface {
	Submit(ctx context.Context, target multisig.Target, payload map[string]interface{}, requiredApprovals int, thresholdSet []string) (*multisig.Manifest, error)
}

// Candidate is a proposed promotion.
type Candidate struct {
	ArtifactRef    string
	Environment    string
	Evaluation     Evaluation
	IdempotencyKey string
	// MultisigThresholdSet, when non-empty, routes promotions whose score is
	// below MultisigScoreCeiling through a multisig approval gate before
	// allocation is attempted — the expansion described for high-severity
	// promotions.
	MultisigThresholdSet []string
}

// Orchestrator implements the PromotionOrchestrator contract.
type Orchestrator struct {
	store               *Store
	audit               AuditAppender
	checker             CheckerClient
	allocator           AllocatorClient
	multisig            MultisigSubmitter
	sentinelCfg         SentinelConfig
	multisigScoreCeiling float64
	metrics             *metrics.Metrics
}

func NewOrchestrator(store *Store, audit AuditAppender, checker CheckerClient, allocator AllocatorClient, ms MultisigSubmitter, sentinelCfg SentinelConfig, multisigScoreCeiling float64, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		store:               store,
		audit:               audit,
		checker:             checker,
		allocator:           allocator,
		multisig:            ms,
		sentinelCfg:         sentinelCfg,
		multisigScoreCeiling: multisigScoreCeiling,
		metrics:             m,
	}
}

// Promote runs the full promotion flow: idempotency check, persist pending,
// sentinel check, optional multisig gate, allocate, terminal state.
func (o *Orchestrator) Promote(ctx context.Context, c Candidate) (*Promotion, error) {
	if existing, err := o.store.FindByIdempotencyKey(ctx, c.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	traceID := uuid.NewString()
	p := &Promotion{
		ID:             uuid.NewString(),
		ArtifactRef:    c.ArtifactRef,
		Score:          c.Evaluation.Score,
		Status:         StatusPending,
		Evaluation:     map[string]interface{}{"pool": c.Evaluation.Pool, "delta": c.Evaluation.Delta, "score": c.Evaluation.Score},
		IdempotencyKey: c.IdempotencyKey,
	}
	if err := o.store.InsertPending(ctx, p); err != nil {
		return nil, err
	}

	sentinelDecision := EvaluateSentinel(o.sentinelCfg, c.Evaluation)
	checkDecision, err := o.checker.Check(ctx, checkservice.Request{
		RequestID: traceID,
		Action:    "promote",
		Actor:     map[string]interface{}{"environment": c.Environment},
		Resource:  map[string]interface{}{"artifact_ref": c.ArtifactRef},
		Context:   map[string]interface{}{"pool": c.Evaluation.Pool, "delta": c.Evaluation.Delta, "score": c.Evaluation.Score},
	})
	if err != nil {
		return o.fail(ctx, p, "policy check failed: "+err.Error(), traceID)
	}

	allowed := sentinelDecision.Allowed && checkDecision.Allowed
	if !allowed {
		reason := sentinelDecision.Reason
		if reason == "" {
			reason = checkDecision.Reason
		}
		return o.fail(ctx, p, reason, traceID)
	}

	if c.Evaluation.Score < o.sentinelCfg.ScoreThreshold {
		return o.fail(ctx, p, "score below promotion threshold", traceID)
	}

	if len(c.MultisigThresholdSet) > 0 && c.Evaluation.Score < o.multisigScoreCeiling {
		if o.multisig == nil {
			return o.fail(ctx, p, "multisig gate required but unavailable", traceID)
		}
		if _, err := o.multisig.Submit(ctx, multisig.TargetArtifact, map[string]interface{}{
			"promotion_id": p.ID,
			"artifact_ref": p.ArtifactRef,
		}, len(c.MultisigThresholdSet), c.MultisigThresholdSet); err != nil {
			return o.fail(ctx, p, "multisig submission failed: "+err.Error(), traceID)
		}
		// The promotion remains pending until the submitted manifest is
		// applied; apply-time allocation is out of this method's scope.
		return p, nil
	}

	result, err := o.allocator.Allocate(ctx, AllocationRequest{
		ArtifactRef: c.ArtifactRef,
		TraceID:     traceID,
		Evaluation:  p.Evaluation,
	})
	if err != nil {
		return o.fail(ctx, p, "allocator error: "+err.Error(), traceID)
	}
	if !result.Accepted {
		return o.fail(ctx, p, result.Reason, traceID)
	}

	eventID, _, _, err := o.audit.Append(ctx, "promotion.accepted", map[string]interface{}{
		"promotion_id": p.ID, "artifact_ref": p.ArtifactRef, "trace_id": traceID,
	})
	if err != nil {
		return nil, apperrors.Internal("append promotion.accepted", err)
	}
	if err := o.store.UpdateTerminal(ctx, p.ID, StatusAccepted, "allocated", eventID); err != nil {
		return nil, err
	}
	p.Status = StatusAccepted
	p.EventID = eventID
	if o.metrics != nil {
		o.metrics.RecordPromotion(string(StatusAccepted))
	}
	return p, nil
}

func (o *Orchestrator) fail(ctx context.Context, p *Promotion, reason, traceID string) (*Promotion, error) {
	eventID, _, _, err := o.audit.Append(ctx, "promotion.failed", map[string]interface{}{
		"promotion_id": p.ID, "artifact_ref": p.ArtifactRef, "reason": reason, "trace_id": traceID,
	})
	if err != nil {
		return nil, apperrors.Internal("append promotion.failed", err)
	}
	if err := o.store.UpdateTerminal(ctx, p.ID, StatusFailed, reason, eventID); err != nil {
		return nil, err
	}
	p.Status = StatusFailed
	p.Reason = reason
	p.EventID = eventID
	if o.metrics != nil {
		o.metrics.RecordPromotion(string(StatusFailed))
	}
	return p, nil
}
