package canary

import (
	"time"

	"github.com/robfig/cron/v3"
)

// StartCooldownSweep runs a periodic job that prunes expired cooldown
// entries so Controller.cooldown does not grow unbounded across the
// lifetime of a long-running process. It does not affect rollback
// decisions — those are evaluated inline in Record — only bookkeeping.
func (c *Controller) StartCooldownSweep(spec string) (*cron.Cron, error) {
	sched := cron.New()
	_, err := sched.AddFunc(spec, c.sweepExpiredCooldowns)
	if err != nil {
		return nil, err
	}
	sched.Start()
	return sched, nil
}

func (c *Controller) sweepExpiredCooldowns() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for policyID, until := range c.cooldown {
		if now.After(until) {
			delete(c.cooldown, policyID)
		}
	}
}
