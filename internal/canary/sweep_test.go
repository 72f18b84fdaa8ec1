package canary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSweepExpiredCooldownsPrunesOnlyPast(t *testing.T) {
	ctrl := NewController(DefaultConfig(), nil)
	ctrl.cooldown["expired"] = time.Now().Add(-time.Minute)
	ctrl.cooldown["active"] = time.Now().Add(time.Hour)

	ctrl.sweepExpiredCooldowns()

	_, expiredStillThere := ctrl.cooldown["expired"]
	_, activeStillThere := ctrl.cooldown["active"]
	assert.False(t, expiredStillThere)
	assert.True(t, activeStillThere)
}
