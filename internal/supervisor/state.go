package supervisor

import (
	"time"
)

// Phase is the connection phase.
type Phase string

const (
	PhaseClosed     Phase = "CLOSED"
	PhaseConnecting Phase = "CONNECTING"
	PhaseOpen       Phase = "OPEN"
	PhaseClosing    Phase = "CLOSING"
)

// Circuit is the breaker position.
type Circuit string

const (
	CircuitClosed   Circuit = "CLOSED"
	CircuitOpen     Circuit = "OPEN"
	CircuitHalfOpen Circuit = "HALF_OPEN"
)

// State is the observable ConnectionState.
type State struct {
	Phase               Phase     `json:"phase"`
	Circuit             Circuit   `json:"circuit"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	NextRetryAt         time.Time `json:"nextRetryAt,omitzero"`
}

// Config tunes retries and the breaker.
type Config struct {
	FailureThreshold int
	CoolDown         time.Duration
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	Jitter           float64
	DialTimeout      time.Duration
}

// DefaultConfig returns the stock tuning: 3 failures, 30s cool-down,
// 1s base delay doubling with ±20% jitter up to 30s.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		CoolDown:         30 * time.Second,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		Multiplier:       2,
		Jitter:           0.2,
		DialTimeout:      10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.CoolDown <= 0 {
		c.CoolDown = d.CoolDown
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = d.Jitter
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	return c
}
