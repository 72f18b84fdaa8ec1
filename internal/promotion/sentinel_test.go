package promotion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateSentinelDeniesDenylistedPool(t *testing.T) {
	cfg := SentinelConfig{DenyPools: map[string]bool{"quarantine": true}, MaxDelta: 1.0}
	decision := EvaluateSentinel(cfg, Evaluation{Pool: "quarantine", Delta: 0.1})
	assert.False(t, decision.Allowed)
}

func TestEvaluateSentinelDeniesDeltaOverLimit(t *testing.T) {
	cfg := SentinelConfig{DenyPools: map[string]bool{}, MaxDelta: 0.5}
	decision := EvaluateSentinel(cfg, Evaluation{Pool: "general", Delta: 0.9})
	assert.False(t, decision.Allowed)
}

func TestEvaluateSentinelAllowsWithinLimits(t *testing.T) {
	cfg := SentinelConfig{DenyPools: map[string]bool{"quarantine": true}, MaxDelta: 1.0}
	decision := EvaluateSentinel(cfg, Evaluation{Pool: "general", Delta: 0.3})
	assert.True(t, decision.Allowed)
}

func TestDefaultSentinelConfigHasSaneDefaults(t *testing.T) {
	cfg := DefaultSentinelConfig()
	assert.Equal(t, 1.0, cfg.MaxDelta)
	assert.Equal(t, 0.8, cfg.ScoreThreshold)
	assert.Empty(t, cfg.DenyPools)
}
