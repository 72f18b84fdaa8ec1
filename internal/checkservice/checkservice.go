// Package checkservice implements the synchronous policy check endpoint:
// given an action/actor/resource/context, decide allow or deny against the
// active and canary policy set.
package checkservice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentineltrust/controlplane/internal/canary"
	"github.com/sentineltrust/controlplane/internal/metrics"
	"github.com/sentineltrust/controlplane/internal/policy"
)

// Request mirrors the POST /check body.
type Request struct {
	RequestID string                 `json:"request_id,omitempty"`
	Action    string                 `json:"action"`
	Actor     map[string]interface{} `json:"actor"`
	Resource  map[string]interface{} `json:"resource"`
	Context   map[string]interface{} `json:"context"`
}

// Decision mirrors the POST /check response.
type Decision struct {
	Allowed       bool   `json:"allowed"`
	PolicyID      string `json:"policyId,omitempty"`
	Reason        string `json:"reason"`
	PolicyVersion int    `json:"policyVersion,omitempty"`
}

// PolicyLister is the narrow registry surface CheckService needs.
type PolicyLister interface {
	List(ctx context.Context, states []policy.State) ([]policy.Policy, error)
}

// Service evaluates policies in deterministic order against a request.
type Service struct {
	policies PolicyLister
	canary   *canary.Controller
	metrics  *metrics.Metrics
}

func New(policies PolicyLister, canaryController *canary.Controller, m *metrics.Metrics) *Service {
	return &Service{policies: policies, canary: canaryController, metrics: m}
}

// Check iterates active and canary policies in {severity asc, name,
// version} order, returning the first match; no match defaults to allow.
func (s *Service) Check(ctx context.Context, req Request) (Decision, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	start := time.Now()

	policies, err := s.policies.List(ctx, []policy.State{policy.StateActive, policy.StateCanary})
	if err != nil {
		return Decision{}, fmt.Errorf("list policies: %w", err)
	}

	evalCtx := policy.Context{
		"action":   req.Action,
		"actor":    req.Actor,
		"resource": req.Resource,
		"context":  req.Context,
	}

	for _, p := range policies {
		result, err := policy.Evaluate(p.Rule, evalCtx, p.Metadata.Effect)
		if err != nil {
			// policy_error: counted in errors_total and treated as a
			// non-match, not a failure. It is not logged.
			if s.metrics != nil {
				s.metrics.RecordError("checkservice", "policy_error", "evaluate")
			}
			continue
		}
		if !result.Match {
			continue
		}

		enforced := true
		if p.State == policy.StateCanary {
			enforced = canary.ShouldApply(p.ID, req.RequestID, p.Metadata.CanaryPercent)
		}

		allowed := result.Effect == policy.EffectAllow
		if !enforced {
			allowed = true
		}

		if s.canary != nil && p.State == policy.StateCanary {
			s.canary.Record(p.ID, canary.Sample{
				Timestamp: time.Now().UTC(),
				Enforced:  enforced,
				Allowed:   allowed,
				Effect:    string(result.Effect),
			})
		}

		if s.metrics != nil {
			s.metrics.RecordCanarySample(p.ID, enforced)
			s.metrics.RecordPolicyDecision(p.ID, string(result.Effect), enforced, time.Since(start))
		}

		return Decision{
			Allowed:       allowed,
			PolicyID:      p.ID,
			Reason:        result.Explanation,
			PolicyVersion: p.Version,
		}, nil
	}

	if s.metrics != nil {
		s.metrics.RecordPolicyDecision("none", "allow", false, time.Since(start))
	}
	return Decision{Allowed: true, Reason: "no policy matched"}, nil
}
