package engine

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/runcollab/internal/clock"
	"github.com/roach88/runcollab/internal/dispatch"
	"github.com/roach88/runcollab/internal/eventlog"
	"github.com/roach88/runcollab/internal/ir"
	"github.com/roach88/runcollab/internal/notify"
	"github.com/roach88/runcollab/internal/presence"
	"github.com/roach88/runcollab/internal/supervisor"
	"github.com/roach88/runcollab/internal/timers"
	"github.com/roach88/runcollab/internal/transport"
)

// ErrNoRun is returned by mutations while no run is open.
var ErrNoRun = errors.New("engine: no run open")

const heartbeatKey = "engine/heartbeat"

// Engine is the collaboration engine of one user.
//
// Thread-safety: all exported methods are safe for concurrent use; they
// run one at a time on the engine's executor together with inbound frames
// and timers.
type Engine struct {
	mu sync.Mutex // the executor; held for the duration of every entry point

	userID     string
	dialer     transport.Dialer
	clock      clock.Clock
	ids        ir.IDGenerator
	supCfg     supervisor.Config
	staleness  time.Duration
	heartbeat  time.Duration
	pipeline   []string
	noticeOpts []notify.Option
	outboxOn   bool

	arena      *timers.Arena
	sup        *supervisor.Supervisor
	runID      string
	log        *eventlog.Log
	presence   *presence.Tracker
	notices    *notify.Center
	dispatcher *dispatch.Dispatcher
	outbox     map[string]ir.Event
}

// New creates an engine for userID. No run is open until Open.
func New(dialer transport.Dialer, userID string, opts ...Option) *Engine {
	e := &Engine{
		userID: userID,
		dialer: dialer,
		outbox: make(map[string]ir.Event),
	}
	defaults(e)
	for _, opt := range opts {
		opt(e)
	}

	e.arena = timers.NewArena(e.clock, e.do)
	e.sup = supervisor.New(e.supCfg, supervisor.Deps{
		Dialer:  dialer,
		Clock:   e.clock,
		Arena:   e.arena,
		Post:    e.do,
		Spawn:   supervisor.Go,
		Handler: handler{e},
	})
	e.notices = notify.NewCenter(userID, e.clock, e.arena, e.noticeOpts...)
	e.resetRun("")
	return e
}

// do runs fn on the executor.
func (e *Engine) do(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

// resetRun discards all per-run state. Caller holds the executor.
func (e *Engine) resetRun(runID string) {
	e.arena.CancelAll()
	e.runID = runID
	e.log = eventlog.New(eventlog.WithBase(e.pipeline), eventlog.WithRunID(runID))
	e.presence = presence.NewTracker(e.log, e.staleness)
	e.notices.Reset()
	clear(e.outbox)
	e.dispatcher = dispatch.New(e.userID, runID, e.clock, e.ids, e.log, e.sup)
}

// Open switches the engine to runID: the previous run is left, every timer
// is cancelled, all per-run state is discarded, and the new run connects.
// History older than the notice timeout is folded without notices.
func (e *Engine) Open(runID string) {
	e.do(func() {
		if e.runID != "" {
			e.leaveLocked()
		}
		e.sup.Disconnect()
		e.resetRun(runID)
		e.notices.Since(e.clock.Now())
		slog.Info("run opened", "run_id", runID, "user_id", e.userID)
		e.sup.Connect(runID)
	})
}

// Close leaves the current run and disconnects.
func (e *Engine) Close() {
	e.do(func() {
		if e.runID == "" {
			return
		}
		e.leaveLocked()
		e.sup.Disconnect()
		e.arena.CancelAll()
		slog.Info("run closed", "run_id", e.runID, "user_id", e.userID)
		e.runID = ""
	})
}

func (e *Engine) leaveLocked() {
	if !e.sup.IsConnected() {
		return
	}
	if _, err := e.dispatcher.SendLeave(e.activeLocked()); err != nil {
		slog.Warn("leave not sent", "run_id", e.runID, "error", err)
	}
}

// RunID returns the open run, or "".
func (e *Engine) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// UserID returns the local user.
func (e *Engine) UserID() string {
	return e.userID
}

// IsConnected reports whether the session is open.
func (e *Engine) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sup.IsConnected()
}

// ConnectionState returns phase, circuit, failure count and next retry.
func (e *Engine) ConnectionState() supervisor.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sup.State()
}

// Reconnect makes a manual connection attempt, even while the circuit is open.
func (e *Engine) Reconnect() {
	e.do(e.sup.Reconnect)
}

// ForceDisconnect drops the session as if the network failed.
func (e *Engine) ForceDisconnect() {
	e.do(e.sup.ForceDisconnect)
}

// ActiveUsers returns the users present in the run, staleness applied.
func (e *Engine) ActiveUsers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeLocked()
}

func (e *Engine) activeLocked() []string {
	return e.presence.ActiveUsers(e.clock.Now())
}

// CollaborationEvents returns the log in deterministic order.
func (e *Engine) CollaborationEvents() []ir.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.All()
}

// CursorPositions returns the cursor of every fresh user.
func (e *Engine) CursorPositions() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.presence.Cursors(e.clock.Now())
}

// State returns a deep copy of the folded run state.
func (e *Engine) State() eventlog.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Snapshot()
}

// Notifications returns the visible notices, oldest first.
func (e *Engine) Notifications() []notify.Notice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notices.Notices()
}

// DismissNotification removes a notice. Idempotent.
func (e *Engine) DismissNotification(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notices.Dismiss(id)
}

// SendGraft grafts agentName after the step after.
func (e *Engine) SendGraft(after, agentName string) (dispatch.Result, error) {
	return e.mutate(func(d *dispatch.Dispatcher) (dispatch.Result, error) {
		return d.SendGraft(after, agentName)
	})
}

// SendPrune prunes or restores stepID.
func (e *Engine) SendPrune(stepID string, isPruned bool) (dispatch.Result, error) {
	return e.mutate(func(d *dispatch.Dispatcher) (dispatch.Result, error) {
		return d.SendPrune(stepID, isPruned)
	})
}

// SendFlag attaches note to stepID.
func (e *Engine) SendFlag(stepID, note string) (dispatch.Result, error) {
	return e.mutate(func(d *dispatch.Dispatcher) (dispatch.Result, error) {
		return d.SendFlag(stepID, note)
	})
}

// SendCursorMove publishes the hovered node.
func (e *Engine) SendCursorMove(nodeID string) (dispatch.Result, error) {
	return e.mutate(func(d *dispatch.Dispatcher) (dispatch.Result, error) {
		return d.SendCursorMove(nodeID)
	})
}

func (e *Engine) mutate(fn func(*dispatch.Dispatcher) (dispatch.Result, error)) (dispatch.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.runID == "" {
		return dispatch.Result{}, ErrNoRun
	}
	res, err := fn(e.dispatcher)
	if err != nil {
		return res, err
	}
	e.track(res)
	return res, nil
}

// track keeps unsent own events for the next connection.
func (e *Engine) track(res dispatch.Result) {
	if res.Sent || !e.outboxOn {
		return
	}
	switch res.Event.Type() {
	case ir.EventGraft, ir.EventPrune, ir.EventFlag:
		e.outbox[res.Event.ID] = res.Event
	}
}

// flushOutbox re-publishes own events that never reached the server.
func (e *Engine) flushOutbox() {
	if len(e.outbox) == 0 {
		return
	}
	pending := make([]ir.Event, 0, len(e.outbox))
	for _, ev := range e.outbox {
		pending = append(pending, ev)
	}
	slices.SortFunc(pending, ir.Compare)

	for _, ev := range pending {
		payload, err := json.Marshal(ev)
		if err != nil {
			slog.Error("outbox event not encodable", "event_id", ev.ID, "error", err)
			delete(e.outbox, ev.ID)
			continue
		}
		if !e.sup.Send(transport.PublishTopic(e.runID, ev.Type()), payload) {
			return
		}
		delete(e.outbox, ev.ID)
	}
	slog.Info("outbox flushed", "run_id", e.runID, "events", len(pending))
}

// Pending returns the number of own events waiting to be sent.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.outbox)
}

func (e *Engine) scheduleHeartbeat() {
	if e.heartbeat <= 0 {
		return
	}
	e.arena.Schedule(heartbeatKey, e.heartbeat, func() {
		if !e.sup.IsConnected() {
			return
		}
		if _, err := e.dispatcher.SendJoin(e.activeLocked()); err != nil {
			slog.Warn("heartbeat not sent", "run_id", e.runID, "error", err)
		}
		e.scheduleHeartbeat()
	})
}
