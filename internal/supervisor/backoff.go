package supervisor

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// delays produces reconnect delays: exponential from BaseDelay with jitter,
// never above MaxDelay.
type delays struct {
	max time.Duration
	exp *backoff.ExponentialBackOff
}

func newDelays(cfg Config) *delays {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.BaseDelay,
		RandomizationFactor: cfg.Jitter,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.MaxDelay,
	}
	exp.Reset()
	return &delays{max: cfg.MaxDelay, exp: exp}
}

// Next returns the next delay.
func (d *delays) Next() time.Duration {
	next := d.exp.NextBackOff()
	if next < 0 || next > d.max {
		return d.max
	}
	return next
}

// Reset restarts from BaseDelay.
func (d *delays) Reset() {
	d.exp.Reset()
}
