package checkservice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentineltrust/controlplane/internal/canary"
	"github.com/sentineltrust/controlplane/internal/policy"
)

type fakePolicyLister struct {
	policies []policy.Policy
}

func (f *fakePolicyLister) List(ctx context.Context, states []policy.State) ([]policy.Policy, error) {
	return f.policies, nil
}

func denyPolicy(id string, severity policy.Severity, action string) policy.Policy {
	return policy.Policy{
		ID:       id,
		Name:     id,
		Severity: severity,
		State:    policy.StateActive,
		Rule:     &policy.Rule{Op: policy.OpEq, Var: "action", Value: action},
		Metadata: policy.Metadata{Effect: policy.EffectDeny},
	}
}

func TestCheckDefaultsToAllowWhenNoPolicyMatches(t *testing.T) {
	svc := New(&fakePolicyLister{}, canary.NewController(canary.DefaultConfig(), nil), nil)
	decision, err := svc.Check(context.Background(), Request{Action: "kernel.async.event"})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "no policy matched", decision.Reason)
}

func TestCheckDeniesOnMatchingActivePolicy(t *testing.T) {
	lister := &fakePolicyLister{policies: []policy.Policy{
		denyPolicy("policy-1", policy.SeverityHigh, "kernel.async.event"),
	}}
	svc := New(lister, canary.NewController(canary.DefaultConfig(), nil), nil)

	decision, err := svc.Check(context.Background(), Request{Action: "kernel.async.event"})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "policy-1", decision.PolicyID)
}

func TestCheckEvaluatesInSeverityOrderAndStopsAtFirstMatch(t *testing.T) {
	lister := &fakePolicyLister{policies: []policy.Policy{
		denyPolicy("low-sev", policy.SeverityLow, "other-action"),
		denyPolicy("high-sev", policy.SeverityHigh, "kernel.async.event"),
	}}
	svc := New(lister, canary.NewController(canary.DefaultConfig(), nil), nil)

	decision, err := svc.Check(context.Background(), Request{Action: "kernel.async.event"})
	require.NoError(t, err)
	assert.Equal(t, "high-sev", decision.PolicyID)
}

func TestCheckSkipsPolicyWhoseRuleFailsToEvaluate(t *testing.T) {
	broken := policy.Policy{
		ID: "broken", Name: "broken", Severity: policy.SeverityLow, State: policy.StateActive,
		Rule:     &policy.Rule{Op: "not-a-real-op"},
		Metadata: policy.Metadata{Effect: policy.EffectDeny},
	}
	good := denyPolicy("good", policy.SeverityHigh, "kernel.async.event")
	lister := &fakePolicyLister{policies: []policy.Policy{broken, good}}
	svc := New(lister, canary.NewController(canary.DefaultConfig(), nil), nil)

	decision, err := svc.Check(context.Background(), Request{Action: "kernel.async.event"})
	require.NoError(t, err)
	assert.Equal(t, "good", decision.PolicyID)
}

func TestCheckGeneratesRequestIDWhenMissing(t *testing.T) {
	svc := New(&fakePolicyLister{}, canary.NewController(canary.DefaultConfig(), nil), nil)
	decision, err := svc.Check(context.Background(), Request{Action: "anything"})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCheckCanaryPolicyUnenforcedSampleAllowsRegardlessOfEffect(t *testing.T) {
	canaryPolicy := policy.Policy{
		ID: "canary-1", Name: "canary-1", Severity: policy.SeverityHigh, State: policy.StateCanary,
		Rule:     &policy.Rule{Op: policy.OpEq, Var: "action", Value: "kernel.async.event"},
		Metadata: policy.Metadata{Effect: policy.EffectDeny, CanaryPercent: 0},
	}
	lister := &fakePolicyLister{policies: []policy.Policy{canaryPolicy}}
	svc := New(lister, canary.NewController(canary.DefaultConfig(), nil), nil)

	decision, err := svc.Check(context.Background(), Request{Action: "kernel.async.event"})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "canary-1", decision.PolicyID)
}
