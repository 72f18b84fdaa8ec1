package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateMatchesOnSimpleEquality(t *testing.T) {
	rule := &Rule{Op: OpEq, Var: "action", Value: "kernel.async.event"}
	ctx := Context{"action": "kernel.async.event"}

	result, err := Evaluate(rule, ctx, EffectDeny)
	require.NoError(t, err)
	assert.True(t, result.Match)
	assert.Equal(t, EffectDeny, result.Effect)
}

func TestEvaluateNoMatchOnInequality(t *testing.T) {
	rule := &Rule{Op: OpEq, Var: "action", Value: "kernel.async.event"}
	ctx := Context{"action": "kernel.sync.event"}

	result, err := Evaluate(rule, ctx, EffectDeny)
	require.NoError(t, err)
	assert.False(t, result.Match)
}

func TestEvaluateNilRuleNeverMatches(t *testing.T) {
	result, err := Evaluate(nil, Context{}, EffectDeny)
	require.NoError(t, err)
	assert.False(t, result.Match)
}

func TestEvaluateAndMatchesWhenAllSubRulesMatch(t *testing.T) {
	rule := &Rule{Op: OpAnd, Rules: []Rule{
		{Op: OpEq, Var: "action", Value: "a"},
		{Op: OpEq, Var: "actor.id", Value: "user-1"},
	}}
	ctx := Context{"action": "a", "actor": map[string]interface{}{"id": "user-1"}}

	result, err := Evaluate(rule, ctx, EffectAllow)
	require.NoError(t, err)
	assert.True(t, result.Match)
	assert.Equal(t, EffectAllow, result.Effect)
}

func TestEvaluateOrMatchesOnFirstHit(t *testing.T) {
	rule := &Rule{Op: OpOr, Rules: []Rule{
		{Op: OpEq, Var: "action", Value: "no-match"},
		{Op: OpEq, Var: "action", Value: "a"},
	}}
	ctx := Context{"action": "a"}

	result, err := Evaluate(rule, ctx, EffectAllow)
	require.NoError(t, err)
	assert.True(t, result.Match)
}

func TestEvaluateNotInvertsInnerResult(t *testing.T) {
	inner := Rule{Op: OpEq, Var: "action", Value: "blocked"}
	rule := &Rule{Op: OpNot, Rule: &inner}
	ctx := Context{"action": "allowed"}

	result, err := Evaluate(rule, ctx, EffectDeny)
	require.NoError(t, err)
	assert.True(t, result.Match)
}

func TestEvaluateInMatchesMembership(t *testing.T) {
	rule := &Rule{Op: OpIn, Var: "resource.pool", Values: []interface{}{"pool-a", "pool-b"}}
	ctx := Context{"resource": map[string]interface{}{"pool": "pool-b"}}

	result, err := Evaluate(rule, ctx, EffectDeny)
	require.NoError(t, err)
	assert.True(t, result.Match)
}

func TestEvaluateComparisonOperators(t *testing.T) {
	ctx := Context{"context": map[string]interface{}{"delta": 0.2}}

	gt := &Rule{Op: OpGt, Var: "context.delta", Value: 0.1}
	result, err := Evaluate(gt, ctx, EffectDeny)
	require.NoError(t, err)
	assert.True(t, result.Match)

	lte := &Rule{Op: OpLte, Var: "context.delta", Value: 0.1}
	result, err = Evaluate(lte, ctx, EffectDeny)
	require.NoError(t, err)
	assert.False(t, result.Match)
}

func TestEvaluateRegexMatchesStringValue(t *testing.T) {
	rule := &Rule{Op: OpRegex, Var: "resource.id", Pattern: "^artifact-[0-9]+$"}
	ctx := Context{"resource": map[string]interface{}{"id": "artifact-42"}}

	result, err := Evaluate(rule, ctx, EffectDeny)
	require.NoError(t, err)
	assert.True(t, result.Match)
}

func TestEvaluateMissingVarResolvesToNilWithoutError(t *testing.T) {
	rule := &Rule{Op: OpEq, Var: "actor.missing", Value: "x"}
	ctx := Context{"actor": map[string]interface{}{"id": "user-1"}}

	result, err := Evaluate(rule, ctx, EffectDeny)
	require.NoError(t, err)
	assert.False(t, result.Match)
}

func TestEvaluateDefaultsToDenyWhenEffectUnset(t *testing.T) {
	rule := &Rule{Op: OpEq, Var: "action", Value: "a"}
	ctx := Context{"action": "a"}

	result, err := Evaluate(rule, ctx, "")
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, result.Effect)
}
