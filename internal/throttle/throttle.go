package throttle

import "time"

// Config describes the adaptive throttle: once a run has turned more than
// ThresholdPages listing pages, the inter-item delay grows by Increment for
// every BatchSize processed items, capped at MaxDelay.
type Config struct {
	Baseline       time.Duration
	ThresholdPages int
	BatchSize      int
	Increment      time.Duration
	MaxDelay       time.Duration
}

// Controller is per-run state. The delay starts at the baseline loop delay
// and only ever grows within a run.
type Controller struct {
	cfg       Config
	throttled bool
	delay     time.Duration
}

// New builds a controller for a run that observed pageTurns page turns
// during listing collection.
func New(cfg Config, pageTurns int) *Controller {
	if cfg.Baseline < 0 {
		cfg.Baseline = 0
	}
	return &Controller{
		cfg:       cfg,
		throttled: pageTurns > cfg.ThresholdPages,
		delay:     cfg.Baseline,
	}
}

// Throttled reports whether the adaptive mode is active for this run.
func (c *Controller) Throttled() bool {
	return c.throttled
}

// Delay returns the current inter-item delay.
func (c *Controller) Delay() time.Duration {
	return c.delay
}

// Observe records the running processed count (new + duplicate) and steps
// the delay at batch boundaries while in throttled mode.
func (c *Controller) Observe(processed int) {
	if !c.throttled || c.cfg.BatchSize <= 0 || c.cfg.Increment <= 0 {
		return
	}
	if processed <= 0 || processed%c.cfg.BatchSize != 0 {
		return
	}

	next := c.delay + c.cfg.Increment
	if c.cfg.MaxDelay > 0 && next > c.cfg.MaxDelay {
		next = c.cfg.MaxDelay
	}
	if next > c.delay {
		c.delay = next
	}
}
