package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalRuleRoundTrips(t *testing.T) {
	raw := []byte(`{"op":"==","var":"action","value":"kernel.async.event"}`)
	rule, err := UnmarshalRule(raw)
	require.NoError(t, err)
	assert.Equal(t, OpEq, rule.Op)
	assert.Equal(t, "action", rule.Var)
	assert.Equal(t, "kernel.async.event", rule.Value)
}

func TestValidateRejectsUnknownOperator(t *testing.T) {
	r := &Rule{Op: "xor", Var: "action", Value: "x"}
	assert.Error(t, r.Validate())
}

func TestValidateRequiresVarOnComparisonOps(t *testing.T) {
	r := &Rule{Op: OpEq, Value: "x"}
	assert.Error(t, r.Validate())
}

func TestValidateRecursesIntoAndOr(t *testing.T) {
	good := &Rule{Op: OpAnd, Rules: []Rule{
		{Op: OpEq, Var: "action", Value: "a"},
		{Op: OpNeq, Var: "actor.id", Value: "root"},
	}}
	assert.NoError(t, good.Validate())

	bad := &Rule{Op: OpOr, Rules: []Rule{
		{Op: OpEq, Value: "missing var"},
	}}
	assert.Error(t, bad.Validate())
}

func TestValidateRejectsEmptyBoolRules(t *testing.T) {
	r := &Rule{Op: OpAnd}
	assert.Error(t, r.Validate())
}

func TestValidateRejectsInvalidRegexPattern(t *testing.T) {
	r := &Rule{Op: OpRegex, Var: "resource.id", Pattern: "("}
	assert.Error(t, r.Validate())
}

func TestValidateAcceptsNotWithNestedRule(t *testing.T) {
	inner := Rule{Op: OpEq, Var: "action", Value: "deny-me"}
	r := &Rule{Op: OpNot, Rule: &inner}
	assert.NoError(t, r.Validate())
}

func TestValidateRejectsNilRule(t *testing.T) {
	var r *Rule
	assert.Error(t, r.Validate())
}
