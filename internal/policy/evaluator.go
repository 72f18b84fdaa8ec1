package policy

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/PaesslerAG/jsonpath"
)

// Context is the evaluation context built from the triggering event:
// action, actor, resource, and free-form context fields, addressed by var
// paths like "actor.id" or "context.environment".
type Context map[string]interface{}

// Result is the outcome of evaluating a single policy's rule against a
// Context.
type Result struct {
	Match       bool
	Effect      Effect
	Explanation string
}

// Evaluate interprets rule against ctx, returning {match, effect,
// explanation}. It is a pure function: no I/O, no mutation, deterministic
// for a fixed (rule, ctx) pair. defaultEffect is used when rule matches but
// the policy metadata did not specify an effect.
func Evaluate(rule *Rule, ctx Context, defaultEffect Effect) (Result, error) {
	if rule == nil {
		return Result{Match: false}, nil
	}
	matched, explanation, err := evalNode(rule, ctx)
	if err != nil {
		return Result{}, err
	}
	if !matched {
		return Result{Match: false, Explanation: explanation}, nil
	}
	effect := defaultEffect
	if effect == "" {
		effect = EffectDeny
	}
	return Result{Match: true, Effect: effect, Explanation: explanation}, nil
}

func evalNode(r *Rule, ctx Context) (bool, string, error) {
	switch r.Op {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte:
		actual, err := resolveVar(r.Var, ctx)
		if err != nil {
			return false, "", err
		}
		ok, err := compare(r.Op, actual, r.Value)
		return ok, fmt.Sprintf("%s %s %v -> %v", r.Var, r.Op, r.Value, ok), err

	case OpAnd:
		for _, sub := range r.Rules {
			ok, _, err := evalNode(&sub, ctx)
			if err != nil {
				return false, "", err
			}
			if !ok {
				return false, "and: short-circuit false", nil
			}
		}
		return true, "and: all matched", nil

	case OpOr:
		for _, sub := range r.Rules {
			ok, _, err := evalNode(&sub, ctx)
			if err != nil {
				return false, "", err
			}
			if ok {
				return true, "or: matched", nil
			}
		}
		return false, "or: none matched", nil

	case OpNot:
		ok, _, err := evalNode(r.Rule, ctx)
		if err != nil {
			return false, "", err
		}
		return !ok, "not", nil

	case OpIn:
		actual, err := resolveVar(r.Var, ctx)
		if err != nil {
			return false, "", err
		}
		for _, v := range r.Values {
			if looseEqual(actual, v) {
				return true, fmt.Sprintf("%s in values -> true", r.Var), nil
			}
		}
		return false, fmt.Sprintf("%s in values -> false", r.Var), nil

	case OpRegex:
		actual, err := resolveVar(r.Var, ctx)
		if err != nil {
			return false, "", err
		}
		str, ok := actual.(string)
		if !ok {
			return false, "regex: non-string value", nil
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return false, "", fmt.Errorf("compile regex %q: %w", r.Pattern, err)
		}
		matched := re.MatchString(str)
		return matched, fmt.Sprintf("regex %q against %q -> %v", r.Pattern, str, matched), nil

	default:
		return false, "", fmt.Errorf("unknown operator %q", r.Op)
	}
}

// resolveVar resolves a "var" path (e.g. "actor.id") against ctx using
// jsonpath, deliberately restricted to plain dotted field access rather
// than the library's full query syntax — that narrower surface is what
// keeps this an interpreted predicate tree instead of an embedded
// expression language.
func resolveVar(path string, ctx Context) (interface{}, error) {
	if path == "" {
		return nil, fmt.Errorf("empty var path")
	}
	for i := 0; i < len(path); i++ {
		ch := path[i]
		if ch != '.' && ch != '_' && !('a' <= ch && ch <= 'z') && !('A' <= ch && ch <= 'Z') && !('0' <= ch && ch <= '9') {
			return nil, fmt.Errorf("var path %q: only dotted field names are supported", path)
		}
	}
	value, err := jsonpath.Get("$."+path, map[string]interface{}(ctx))
	if err != nil {
		// Missing path resolves to nil, matching the spirit of a typed
		// context map where absent fields compare unequal rather than error.
		return nil, nil
	}
	return value, nil
}

func compare(op string, actual, expected interface{}) (bool, error) {
	switch op {
	case OpEq:
		return looseEqual(actual, expected), nil
	case OpNeq:
		return !looseEqual(actual, expected), nil
	case OpLt, OpLte, OpGt, OpGte:
		af, aok := toFloat(actual)
		ef, eok := toFloat(expected)
		if !aok || !eok {
			return false, nil
		}
		switch op {
		case OpLt:
			return af < ef, nil
		case OpLte:
			return af <= ef, nil
		case OpGt:
			return af > ef, nil
		case OpGte:
			return af >= ef, nil
		}
	}
	return false, fmt.Errorf("unsupported comparison operator %q", op)
}

func looseEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
