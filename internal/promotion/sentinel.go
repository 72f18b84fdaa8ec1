// Package promotion implements the PromotionOrchestrator: idempotent
// artifact promotion gated by SentinelNet policy checks, an optional
// multisig approval step, and an external resource allocator call.
package promotion

// SentinelConfig hard-codes the two policies the spec calls out as useful
// for tests: a pool denylist and a maximum allowed delta.
type SentinelConfig struct {
	DenyPools    map[string]bool
	MaxDelta     float64
	ScoreThreshold float64
}

func DefaultSentinelConfig() SentinelConfig {
	return SentinelConfig{DenyPools: map[string]bool{}, MaxDelta: 1.0, ScoreThreshold: 0.8}
}

// Evaluation is the input SentinelNet evaluates for a promotion candidate.
type Evaluation struct {
	Pool  string
	Delta float64
	Score float64
}

// SentinelDecision is SentinelNet's verdict.
type SentinelDecision struct {
	Allowed bool
	Reason  string
}

// EvaluateSentinel applies deny-pool(p) and max-delta(d), matching the
// spec's two hard-coded test policies. It does not check cfg.ScoreThreshold;
// Orchestrator.Promote checks the score separately.
func EvaluateSentinel(cfg SentinelConfig, eval Evaluation) SentinelDecision {
	if cfg.DenyPools[eval.Pool] {
		return SentinelDecision{Allowed: false, Reason: "pool is denylisted"}
	}
	if eval.Delta > cfg.MaxDelta {
		return SentinelDecision{Allowed: false, Reason: "requested delta exceeds configured limit"}
	}
	return SentinelDecision{Allowed: true, Reason: "sentinel checks passed"}
}
