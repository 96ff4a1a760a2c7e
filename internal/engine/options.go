package engine

import (
	"time"

	"github.com/roach88/runcollab/internal/clock"
	"github.com/roach88/runcollab/internal/ir"
	"github.com/roach88/runcollab/internal/notify"
	"github.com/roach88/runcollab/internal/presence"
	"github.com/roach88/runcollab/internal/supervisor"
)

// DefaultHeartbeat is how often an open engine re-announces its user.
const DefaultHeartbeat = 10 * time.Second

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock. Tests pass a testutil.FakeClock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator replaces the UUIDv7 event id generator.
func WithIDGenerator(g ir.IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithSupervisorConfig tunes reconnection and the circuit breaker.
func WithSupervisorConfig(cfg supervisor.Config) Option {
	return func(e *Engine) {
		e.supCfg = cfg
	}
}

// WithStaleness sets the presence staleness window.
//
// Default: 30s (presence.DefaultStaleness). Zero disables eviction.
func WithStaleness(d time.Duration) Option {
	return func(e *Engine) {
		e.staleness = d
	}
}

// WithHeartbeat sets how often USER_JOIN is re-sent while connected.
//
// Default: 10s (DefaultHeartbeat). Zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(e *Engine) {
		e.heartbeat = d
	}
}

// WithNoticeLimit sets the maximum number of visible notices.
func WithNoticeLimit(n int) Option {
	return func(e *Engine) {
		e.noticeOpts = append(e.noticeOpts, notify.WithLimit(n))
	}
}

// WithNoticeTimeout sets the notice auto-dismiss delay.
func WithNoticeTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.noticeOpts = append(e.noticeOpts, notify.WithTimeout(d))
	}
}

// WithPipeline seeds graftOrder with the run's base steps.
func WithPipeline(steps ...string) Option {
	return func(e *Engine) {
		e.pipeline = append([]string(nil), steps...)
	}
}

// WithOutbox keeps own GRAFT, PRUNE and FLAG events that were produced while
// disconnected and publishes them after the next successful connection.
// Without it such events stay local until the run is reopened.
func WithOutbox() Option {
	return func(e *Engine) {
		e.outboxOn = true
	}
}

func defaults(e *Engine) {
	e.clock = clock.System{}
	e.ids = ir.UUIDv7Generator{}
	e.supCfg = supervisor.DefaultConfig()
	e.staleness = presence.DefaultStaleness
	e.heartbeat = DefaultHeartbeat
}
