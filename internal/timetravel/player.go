package timetravel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/runcollab/internal/clock"
	"github.com/roach88/runcollab/internal/timers"
)

var (
	// ErrPlaying is returned by manual navigation during playback.
	ErrPlaying = errors.New("timetravel: playback in progress, pause first")
	// ErrOutOfRange is returned for a position outside the loaded snapshots.
	ErrOutOfRange = errors.New("timetravel: position out of range")
	// ErrInvalidSpeed is returned by Play for a speed that is not positive.
	ErrInvalidSpeed = errors.New("timetravel: speed must be positive")
)

const tickKey = "timetravel/tick"

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithObserver calls fn after every playback tick with the new current
// snapshot. fn runs on the player's executor and must not call back into
// the player.
func WithObserver(fn func(Snapshot)) PlayerOption {
	return func(p *Player) {
		p.observer = fn
	}
}

// Player scrubs through loaded snapshots.
//
// Thread-safety: Player is safe for concurrent use; its methods and
// playback ticks are serialized by an internal mutex.
type Player struct {
	mu       sync.Mutex
	arena    *timers.Arena
	runID    string
	snaps    []Snapshot
	pos      int
	playing  bool
	interval time.Duration
	observer func(Snapshot)
}

// NewPlayer creates an empty player driven by clk.
func NewPlayer(clk clock.Clock, opts ...PlayerOption) *Player {
	p := &Player{pos: -1}
	p.arena = timers.NewArena(clk, p.do)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Player) do(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

// Load replaces the snapshots with those of runID in r and moves to the
// first one. Playback stops.
func (p *Player) Load(ctx context.Context, src Source, runID string, r Range) error {
	snaps, err := src.Snapshots(ctx, runID, r)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.runID = runID
	p.snaps = snaps
	p.pos = 0
	if len(snaps) == 0 {
		p.pos = -1
	}
	slog.Debug("history loaded", "run_id", runID, "snapshots", len(snaps))
	return nil
}

// RunID returns the loaded run.
func (p *Player) RunID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runID
}

// Len returns the number of loaded snapshots.
func (p *Player) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snaps)
}

// Snapshots returns the loaded snapshots.
func (p *Player) Snapshots() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.snaps)
}

// Position returns the current index into Snapshots, or -1 when empty.
func (p *Player) Position() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// Current returns the snapshot at the current position.
func (p *Player) Current() (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pos < 0 {
		return Snapshot{}, false
	}
	return p.snaps[p.pos], true
}

// Playing reports whether playback is running.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Seek moves to position i.
func (p *Player) Seek(i int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seekLocked(i)
}

// Step moves delta positions forward, or backward when negative.
func (p *Player) Step(delta int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seekLocked(p.pos + delta)
}

func (p *Player) seekLocked(i int) error {
	if p.playing {
		return ErrPlaying
	}
	if i < 0 || i >= len(p.snaps) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, i, len(p.snaps))
	}
	p.pos = i
	return nil
}

// Play advances one snapshot every second/speed until the last snapshot.
// Playing from the last snapshot starts over from the first.
func (p *Player) Play(speed float64) error {
	if speed <= 0 {
		return ErrInvalidSpeed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.snaps) == 0 {
		return fmt.Errorf("%w: nothing loaded", ErrOutOfRange)
	}
	if p.pos == len(p.snaps)-1 {
		p.pos = 0
	}
	if len(p.snaps) == 1 {
		return nil
	}
	p.playing = true
	p.interval = time.Duration(float64(time.Second) / speed)
	slog.Debug("playback started", "run_id", p.runID, "speed", speed, "interval", p.interval)
	p.scheduleLocked()
	return nil
}

// Pause stops playback at the current snapshot.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Player) stopLocked() {
	p.playing = false
	p.arena.CancelAll()
}

func (p *Player) scheduleLocked() {
	p.arena.Schedule(tickKey, p.interval, p.tick)
}

// tick runs on the executor.
func (p *Player) tick() {
	if !p.playing {
		return
	}
	p.pos++
	if p.observer != nil {
		p.observer(p.snaps[p.pos])
	}
	if p.pos >= len(p.snaps)-1 {
		p.playing = false
		slog.Debug("playback finished", "run_id", p.runID)
		return
	}
	p.scheduleLocked()
}

// ExportJSON writes the loaded snapshots as JSON.
func (p *Player) ExportJSON(w io.Writer) error {
	return ExportJSON(w, p.Snapshots())
}

// ExportCSV writes the loaded snapshots as CSV.
func (p *Player) ExportCSV(w io.Writer) error {
	return ExportCSV(w, p.Snapshots())
}
