// Package clock abstracts wall time and one-shot timers so the
// collaboration engine can be driven by a fake clock in tests.
package clock

import "time"

// Timer is a scheduled callback that may be stopped before it fires.
type Timer interface {
	// Stop prevents the timer from firing. Returns false if it already
	// fired or was stopped.
	Stop() bool
}

// Clock provides the current time and one-shot timers.
//
// AfterFunc runs f on its own goroutine (System) or synchronously inside
// Advance (testutil.FakeClock); callers must not assume either.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// System is the real wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (System) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Millis returns the event timestamp for t: milliseconds since the Unix epoch.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts an event timestamp back to a time.Time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
