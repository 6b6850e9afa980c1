package otp

import (
	"time"

	"github.com/dgellow/agrosense/internal/log"
	"github.com/jonboulle/clockwork"
)

// startCooldownLocked sets a fresh deadline and starts a ticker that
// notifies subscribers every second until it passes
func (c *Controller) startCooldownLocked() {
	c.stopCooldownLocked()
	c.cooldownUntil = c.clock.Now().Add(c.cooldown)

	stop := make(chan struct{})
	c.stopTicker = stop
	ticker := c.clock.NewTicker(time.Second)

	c.wg.Add(1)
	go c.runCooldown(ticker, stop)
}

func (c *Controller) stopCooldownLocked() {
	if c.stopTicker != nil {
		close(c.stopTicker)
		c.stopTicker = nil
	}
}

func (c *Controller) runCooldown(ticker clockwork.Ticker, stop <-chan struct{}) {
	defer c.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			remaining := c.CooldownRemaining()
			log.LogTraceWithFields("otp", "Cooldown tick", map[string]any{
				"remaining": remaining,
			})
			c.notify()
			if remaining == 0 {
				return
			}
		}
	}
}
