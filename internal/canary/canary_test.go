package canary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldApplyIsDeterministicForSamePair(t *testing.T) {
	a := ShouldApply("policy-1", "req-1", 50)
	b := ShouldApply("policy-1", "req-1", 50)
	assert.Equal(t, a, b)
}

func TestShouldApplyZeroPercentNeverApplies(t *testing.T) {
	assert.False(t, ShouldApply("policy-1", "req-1", 0))
	assert.False(t, ShouldApply("policy-1", "req-2", -5))
}

func TestShouldApplyFullPercentAlwaysApplies(t *testing.T) {
	assert.True(t, ShouldApply("policy-1", "req-1", 100))
	assert.True(t, ShouldApply("policy-1", "req-2", 150))
}

func TestShouldApplyDistributesAcrossRequests(t *testing.T) {
	applied := 0
	const total = 2000
	for i := 0; i < total; i++ {
		if ShouldApply("policy-1", requestIDFor(i), 25) {
			applied++
		}
	}
	ratio := float64(applied) / float64(total)
	assert.InDelta(t, 0.25, ratio, 0.05)
}

func requestIDFor(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 8)
	for j := range b {
		b[j] = letters[(i+j*31)%len(letters)]
	}
	return string(b)
}

func TestControllerFiresRollbackOnceWhenThresholdCrossed(t *testing.T) {
	var fired []string
	ctrl := NewController(Config{WindowSize: 3, Threshold: 0.5, Cooldown: time.Hour}, func(policyID string) {
		fired = append(fired, policyID)
	})

	ctrl.Record("policy-1", Sample{Enforced: true, Allowed: false})
	ctrl.Record("policy-1", Sample{Enforced: true, Allowed: true})
	ctrl.Record("policy-1", Sample{Enforced: true, Allowed: false})

	assert.Equal(t, []string{"policy-1"}, fired)
}

func TestControllerDoesNotFireBelowThreshold(t *testing.T) {
	var fired []string
	ctrl := NewController(Config{WindowSize: 3, Threshold: 0.8, Cooldown: time.Hour}, func(policyID string) {
		fired = append(fired, policyID)
	})

	ctrl.Record("policy-1", Sample{Enforced: true, Allowed: false})
	ctrl.Record("policy-1", Sample{Enforced: true, Allowed: true})
	ctrl.Record("policy-1", Sample{Enforced: true, Allowed: true})

	assert.Empty(t, fired)
}

func TestControllerRespectsCooldown(t *testing.T) {
	var fired []string
	ctrl := NewController(Config{WindowSize: 2, Threshold: 0.5, Cooldown: time.Hour}, func(policyID string) {
		fired = append(fired, policyID)
	})

	ctrl.Record("policy-1", Sample{Enforced: true, Allowed: false})
	ctrl.Record("policy-1", Sample{Enforced: true, Allowed: false})
	assert.Len(t, fired, 1)

	// Window refills immediately (ring buffer wraps); cooldown should
	// suppress a second fire for the configured duration.
	ctrl.Record("policy-1", Sample{Enforced: true, Allowed: false})
	ctrl.Record("policy-1", Sample{Enforced: true, Allowed: false})
	assert.Len(t, fired, 1)
}

func TestControllerTracksPoliciesIndependently(t *testing.T) {
	var fired []string
	ctrl := NewController(Config{WindowSize: 1, Threshold: 0.5, Cooldown: time.Hour}, func(policyID string) {
		fired = append(fired, policyID)
	})

	ctrl.Record("policy-a", Sample{Enforced: true, Allowed: false})
	ctrl.Record("policy-b", Sample{Enforced: true, Allowed: true})

	assert.Equal(t, []string{"policy-a"}, fired)
}
