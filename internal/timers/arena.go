// Package timers provides an arena of keyed, cancellable one-shot timers.
//
// Every deferred action of the collaboration engine (reconnect retries,
// circuit cool-down, notice auto-dismiss, playback ticks, heartbeats) is a
// keyed entry here, so switching runs or disconnecting can cancel them all
// in one step.
package timers

import (
	"sync"
	"time"

	"github.com/roach88/runcollab/internal/clock"
)

// Post hands a callback to the owner's serializing executor.
type Post func(func())

// Inline runs callbacks on the calling goroutine. Useful when the owner
// already serializes access, and in tests.
func Inline(fn func()) { fn() }

type entry struct {
	token uint64
	timer clock.Timer
}

// Arena owns keyed timers.
//
// Scheduling a key that is already pending replaces it. A callback only runs
// if its entry is still current when the owner's executor picks it up, so a
// timer that fires concurrently with Cancel never runs.
//
// Thread-safety: all methods are safe for concurrent use.
type Arena struct {
	clock clock.Clock
	post  Post

	mu      sync.Mutex
	entries map[string]entry
	seq     uint64
}

// NewArena creates an arena that fires through post.
// A nil post runs callbacks inline on the timer goroutine.
func NewArena(c clock.Clock, post Post) *Arena {
	if post == nil {
		post = Inline
	}
	return &Arena{
		clock:   c,
		post:    post,
		entries: make(map[string]entry),
	}
}

// Schedule runs fn after d unless key is cancelled or rescheduled first.
func (a *Arena) Schedule(key string, d time.Duration, fn func()) {
	a.mu.Lock()
	if old, ok := a.entries[key]; ok {
		old.timer.Stop()
	}
	a.seq++
	token := a.seq
	// Register before starting the timer: a fake clock may fire synchronously.
	a.entries[key] = entry{token: token}
	a.mu.Unlock()

	t := a.clock.AfterFunc(d, func() {
		a.post(func() {
			if !a.claim(key, token) {
				return
			}
			fn()
		})
	})

	a.mu.Lock()
	if cur, ok := a.entries[key]; ok && cur.token == token {
		cur.timer = t
		a.entries[key] = cur
	}
	a.mu.Unlock()
}

// claim removes key if it still carries token.
func (a *Arena) claim(key string, token uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, ok := a.entries[key]
	if !ok || cur.token != token {
		return false
	}
	delete(a.entries, key)
	return true
}

// Cancel stops key. Returns false if nothing was pending.
func (a *Arena) Cancel(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, ok := a.entries[key]
	if !ok {
		return false
	}
	if cur.timer != nil {
		cur.timer.Stop()
	}
	delete(a.entries, key)
	return true
}

// CancelAll stops every pending timer.
func (a *Arena) CancelAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, cur := range a.entries {
		if cur.timer != nil {
			cur.timer.Stop()
		}
		delete(a.entries, key)
	}
}

// Pending reports whether key is scheduled.
func (a *Arena) Pending(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.entries[key]
	return ok
}

// Len returns the number of pending timers.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
