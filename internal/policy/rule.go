// Package policy implements policy storage and the predicate-tree
// evaluator that decides allow/deny for incoming actions.
package policy

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Effect is the outcome a matching rule produces.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Rule is the tagged sum type driving evaluation: exactly one of the
// concrete rule kinds is populated, chosen by Op. This mirrors a
// JSON-logic-style predicate tree without embedding a general-purpose
// expression language — operators are a closed, explicitly interpreted set.
type Rule struct {
	Op string `json:"op"`

	// EqRule / CmpRule
	Var   string      `json:"var,omitempty"`
	Value interface{} `json:"value,omitempty"`

	// BoolRule (and/or)
	Rules []Rule `json:"rules,omitempty"`

	// NotRule
	Rule *Rule `json:"rule,omitempty"`

	// in
	Values []interface{} `json:"values,omitempty"`

	// regex
	Pattern string `json:"pattern,omitempty"`
}

const (
	OpEq    = "=="
	OpNeq   = "!="
	OpLt    = "<"
	OpLte   = "<="
	OpGt    = ">"
	OpGte   = ">="
	OpAnd   = "and"
	OpOr    = "or"
	OpNot   = "not"
	OpIn    = "in"
	OpRegex = "regex"
)

// UnmarshalRule parses a JSON-encoded predicate tree, used when loading a
// policy's stored `rule` column.
func UnmarshalRule(raw []byte) (*Rule, error) {
	var r Rule
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("unmarshal rule: %w", err)
	}
	return &r, nil
}

// Validate recursively checks that r only uses the closed operator set and
// that each operator's required fields are present, surfacing malformed
// policies at write time instead of at evaluation time.
func (r *Rule) Validate() error {
	if r == nil {
		return fmt.Errorf("nil rule")
	}
	switch r.Op {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte:
		if r.Var == "" {
			return fmt.Errorf("operator %q requires var", r.Op)
		}
	case OpAnd, OpOr:
		if len(r.Rules) == 0 {
			return fmt.Errorf("operator %q requires at least one sub-rule", r.Op)
		}
		for i := range r.Rules {
			if err := r.Rules[i].Validate(); err != nil {
				return err
			}
		}
	case OpNot:
		if r.Rule == nil {
			return fmt.Errorf("operator %q requires rule", r.Op)
		}
		if err := r.Rule.Validate(); err != nil {
			return err
		}
	case OpIn:
		if r.Var == "" || len(r.Values) == 0 {
			return fmt.Errorf("operator %q requires var and values", r.Op)
		}
	case OpRegex:
		if r.Var == "" || r.Pattern == "" {
			return fmt.Errorf("operator %q requires var and pattern", r.Op)
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("operator %q has invalid pattern: %w", r.Op, err)
		}
	default:
		return fmt.Errorf("unknown operator %q", r.Op)
	}
	return nil
}
