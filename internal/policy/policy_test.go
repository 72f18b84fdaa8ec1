package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionAllowsDocumentedLifecycle(t *testing.T) {
	assert.True(t, CanTransition(StateDraft, StateSimulating))
	assert.True(t, CanTransition(StateSimulating, StateCanary))
	assert.True(t, CanTransition(StateCanary, StateActive))
	assert.True(t, CanTransition(StateCanary, StateDeprecated))
	assert.True(t, CanTransition(StateActive, StateDeprecated))
}

func TestCanTransitionRejectsSkippingStages(t *testing.T) {
	assert.False(t, CanTransition(StateDraft, StateCanary))
	assert.False(t, CanTransition(StateDraft, StateActive))
	assert.False(t, CanTransition(StateSimulating, StateActive))
}

func TestCanTransitionRejectsLeavingDeprecated(t *testing.T) {
	assert.False(t, CanTransition(StateDeprecated, StateActive))
	assert.False(t, CanTransition(StateDeprecated, StateDraft))
}

func TestCanTransitionRejectsBackwardMoves(t *testing.T) {
	assert.False(t, CanTransition(StateActive, StateCanary))
	assert.False(t, CanTransition(StateCanary, StateSimulating))
}

func TestSeverityRankOrdersAscending(t *testing.T) {
	assert.True(t, SeverityLow.Rank() < SeverityMedium.Rank())
	assert.True(t, SeverityMedium.Rank() < SeverityHigh.Rank())
	assert.True(t, SeverityHigh.Rank() < SeverityCritical.Rank())
}

func TestSeverityRankUnknownSortsLast(t *testing.T) {
	unknown := Severity("BOGUS")
	assert.True(t, unknown.Rank() > SeverityCritical.Rank())
}
