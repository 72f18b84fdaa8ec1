package policy

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"
)

// SeedDefinition is the YAML shape for bootstrapping policies outside
// production, so a fresh development environment has working rules without
// hitting the HTTP API first.
type SeedDefinition struct {
	Name     string                 `yaml:"name"`
	Severity string                 `yaml:"severity"`
	State    string                 `yaml:"state"`
	Rule     map[string]interface{} `yaml:"rule"`
	Metadata Metadata               `yaml:"metadata"`
}

// ParseSeedFile decodes a YAML document containing a list of SeedDefinition
// entries.
func ParseSeedFile(raw []byte) ([]SeedDefinition, error) {
	var defs []SeedDefinition
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("parse policy seed file: %w", err)
	}
	return defs, nil
}

// Seed creates each definition as a draft policy and advances it to the
// requested State, skipping any entry whose Create fails (for example one
// whose (name, version 1) already exists).
func Seed(ctx context.Context, reg *Registry, defs []SeedDefinition, editedBy string) error {
	for _, def := range defs {
		ruleJSON, err := ruleFromMap(def.Rule)
		if err != nil {
			return fmt.Errorf("seed policy %q: %w", def.Name, err)
		}

		p := Policy{
			Name:     def.Name,
			Version:  1,
			Severity: Severity(def.Severity),
			Rule:     ruleJSON,
			Metadata: def.Metadata,
		}

		created, err := reg.Create(ctx, p, editedBy)
		if err != nil {
			continue // already seeded; dev bootstrap is best-effort and idempotent
		}

		target := State(def.State)
		if target == "" || target == StateDraft {
			continue
		}
		current := StateDraft
		for _, next := range seedPath(target) {
			if _, err := reg.Transition(ctx, created.ID, next, editedBy); err != nil {
				return fmt.Errorf("seed policy %q transition %s->%s: %w", def.Name, current, next, err)
			}
			current = next
		}
	}
	return nil
}

func seedPath(target State) []State {
	switch target {
	case StateSimulating:
		return []State{StateSimulating}
	case StateCanary:
		return []State{StateSimulating, StateCanary}
	case StateActive:
		return []State{StateSimulating, StateCanary, StateActive}
	default:
		return nil
	}
}

func ruleFromMap(m map[string]interface{}) (*Rule, error) {
	op, _ := m["op"].(string)
	r := &Rule{Op: op}
	if v, ok := m["var"].(string); ok {
		r.Var = v
	}
	if v, ok := m["value"]; ok {
		r.Value = v
	}
	if v, ok := m["pattern"].(string); ok {
		r.Pattern = v
	}
	if rawRules, ok := m["rules"].([]interface{}); ok {
		for _, rr := range rawRules {
			sub, ok := rr.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("invalid sub-rule")
			}
			parsed, err := ruleFromMap(sub)
			if err != nil {
				return nil, err
			}
			r.Rules = append(r.Rules, *parsed)
		}
	}
	if rawRule, ok := m["rule"].(map[string]interface{}); ok {
		parsed, err := ruleFromMap(rawRule)
		if err != nil {
			return nil, err
		}
		r.Rule = parsed
	}
	if rawValues, ok := m["values"].([]interface{}); ok {
		r.Values = rawValues
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
