package policy

import "time"

// Severity orders policies for CheckService's deterministic evaluation
// order: ascending severity, then name, then version.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3,
}

// Rank orders s for sorting; unknown severities sort last.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// State is a Policy's lifecycle stage.
type State string

const (
	StateDraft      State = "draft"
	StateSimulating State = "simulating"
	StateCanary     State = "canary"
	StateActive     State = "active"
	StateDeprecated State = "deprecated"
)

// Metadata carries evaluator configuration not expressed by Rule itself:
// the effect to apply on match, and — for canary policies — the sampling
// percentage.
type Metadata struct {
	Effect        Effect  `json:"effect,omitempty"`
	CanaryPercent float64 `json:"canary_percent,omitempty"`
}

// Policy is a versioned, named predicate with an enforcement lifecycle.
type Policy struct {
	ID        string
	Name      string
	Version   int
	Severity  Severity
	Rule      *Rule
	Metadata  Metadata
	State     State
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HistoryEntry records one write against a policy for audit/debugging.
type HistoryEntry struct {
	PolicyID string
	Version  int
	Changes  map[string]interface{}
	EditedBy string
	EditedAt time.Time
}

// allowedTransitions enforces the monotonic lifecycle with the two
// documented exceptions: canary may go to active or deprecated.
var allowedTransitions = map[State][]State{
	StateDraft:      {StateSimulating},
	StateSimulating: {StateCanary},
	StateCanary:     {StateActive, StateDeprecated},
	StateActive:     {StateDeprecated},
	StateDeprecated: {},
}

// CanTransition reports whether from -> to is a legal state transition.
func CanTransition(from, to State) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
