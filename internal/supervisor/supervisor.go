package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/runcollab/internal/clock"
	"github.com/roach88/runcollab/internal/timers"
	"github.com/roach88/runcollab/internal/transport"
)

// ErrForcedDisconnect is reported to Handler.OnClose after ForceDisconnect.
var ErrForcedDisconnect = errors.New("forced disconnect")

const (
	retryKey    = "supervisor/retry"
	coolDownKey = "supervisor/cooldown"
)

// Handler receives session events on the owner's executor.
type Handler interface {
	// OnOpen runs after every successful (re)connection, once the run's
	// collaboration topic is subscribed.
	OnOpen()
	// OnMessage runs for every inbound frame of the current session.
	OnMessage(f transport.Frame)
	// OnClose runs when an open session is lost or closed.
	OnClose(err error)
}

// Spawn runs blocking work off the owner's executor.
type Spawn func(func())

// Go runs fn on a new goroutine.
func Go(fn func()) { go fn() }

// Supervisor owns the connection for one engine. See the package doc for
// the state machine.
//
// Not safe for concurrent use: every method, and every callback it posts,
// must run on the owner's executor.
type Supervisor struct {
	cfg     Config
	dialer  transport.Dialer
	clock   clock.Clock
	arena   *timers.Arena
	post    timers.Post
	spawn   Spawn
	handler Handler

	runID   string
	want    bool
	state   State
	gen     uint64
	session transport.Session
	cancel  context.CancelFunc
	delays  *delays
}

// Deps are the collaborators of a Supervisor.
type Deps struct {
	Dialer  transport.Dialer
	Clock   clock.Clock
	Arena   *timers.Arena
	Post    timers.Post
	Spawn   Spawn
	Handler Handler
}

// New creates a closed supervisor.
func New(cfg Config, deps Deps) *Supervisor {
	cfg = cfg.withDefaults()
	if deps.Post == nil {
		deps.Post = timers.Inline
	}
	if deps.Spawn == nil {
		deps.Spawn = Go
	}
	return &Supervisor{
		cfg:     cfg,
		dialer:  deps.Dialer,
		clock:   deps.Clock,
		arena:   deps.Arena,
		post:    deps.Post,
		spawn:   deps.Spawn,
		handler: deps.Handler,
		state:   State{Phase: PhaseClosed, Circuit: CircuitClosed},
		delays:  newDelays(cfg),
	}
}

// State returns the current ConnectionState.
func (s *Supervisor) State() State {
	return s.state
}

// IsConnected reports whether the session is open.
func (s *Supervisor) IsConnected() bool {
	return s.state.Phase == PhaseOpen
}

// RunID returns the run the supervisor is connected or connecting to.
func (s *Supervisor) RunID() string {
	return s.runID
}

// Connect starts connecting to runID. A previous connection is torn down
// first, and the breaker starts fresh.
func (s *Supervisor) Connect(runID string) {
	s.Disconnect()
	s.runID = runID
	s.want = true
	slog.Info("connecting", "run_id", runID)
	s.attempt()
}

// Disconnect closes the session on purpose. No retry follows and the
// breaker resets.
func (s *Supervisor) Disconnect() {
	s.want = false
	s.arena.Cancel(retryKey)
	s.arena.Cancel(coolDownKey)

	wasOpen := s.state.Phase == PhaseOpen
	if s.state.Phase != PhaseClosed {
		s.state.Phase = PhaseClosing
	}
	s.gen++
	s.teardown()
	s.state = State{Phase: PhaseClosed, Circuit: CircuitClosed}
	s.delays.Reset()

	if wasOpen {
		slog.Info("disconnected", "run_id", s.runID)
		s.handler.OnClose(nil)
	}
}

// ForceDisconnect drops the session as if the transport failed.
func (s *Supervisor) ForceDisconnect() {
	if s.state.Phase != PhaseOpen && s.state.Phase != PhaseConnecting {
		return
	}
	s.fail(ErrForcedDisconnect)
}

// Reconnect makes a manual attempt now. It is allowed while the circuit is
// OPEN: the breaker moves to HALF_OPEN and this attempt is its one trial.
func (s *Supervisor) Reconnect() {
	if s.runID == "" {
		return
	}
	s.want = true
	if s.state.Phase == PhaseOpen || s.state.Phase == PhaseConnecting {
		return
	}
	s.arena.Cancel(retryKey)
	s.arena.Cancel(coolDownKey)
	if s.state.Circuit == CircuitOpen {
		s.state.Circuit = CircuitHalfOpen
	}
	s.state.NextRetryAt = time.Time{}
	slog.Info("manual reconnect", "run_id", s.runID, "circuit", s.state.Circuit)
	s.attempt()
}

// Send publishes payload to destination. Returns false, and drops the
// payload, unless the session is open.
func (s *Supervisor) Send(destination string, payload json.RawMessage) bool {
	if s.state.Phase != PhaseOpen || s.session == nil {
		droppedSendsTotal.Inc()
		return false
	}
	if err := s.session.Publish(destination, payload); err != nil {
		slog.Warn("publish failed", "run_id", s.runID, "destination", destination, "error", err)
		droppedSendsTotal.Inc()
		s.fail(err)
		return false
	}
	return true
}

func (s *Supervisor) attempt() {
	if s.state.Phase != PhaseClosed || !s.want {
		return
	}
	dialAttemptsTotal.Inc()

	s.gen++
	gen := s.gen
	s.state.Phase = PhaseConnecting
	s.state.NextRetryAt = time.Time{}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	dialer := s.dialer
	timeout := s.cfg.DialTimeout
	s.spawn(func() {
		dialCtx, stop := context.WithTimeout(ctx, timeout)
		sess, err := dialer.Dial(dialCtx)
		stop()
		s.post(func() { s.onDial(ctx, gen, sess, err) })
	})
}

func (s *Supervisor) onDial(ctx context.Context, gen uint64, sess transport.Session, err error) {
	if gen != s.gen {
		if sess != nil {
			_ = sess.Close()
		}
		return
	}
	if err != nil {
		slog.Warn("dial failed", "run_id", s.runID, "error", err)
		s.fail(err)
		return
	}

	topic := transport.CollaborationTopic(s.runID)
	if err := sess.Subscribe(topic); err != nil {
		_ = sess.Close()
		slog.Warn("subscribe failed", "run_id", s.runID, "topic", topic, "error", err)
		s.fail(err)
		return
	}

	s.session = sess
	s.state = State{Phase: PhaseOpen, Circuit: CircuitClosed}
	s.delays.Reset()
	s.arena.Cancel(retryKey)
	s.arena.Cancel(coolDownKey)
	slog.Info("connected", "run_id", s.runID, "topic", topic)

	go s.pump(ctx, gen, sess)
	s.handler.OnOpen()
}

// pump moves inbound frames onto the owner's executor until the session
// ends or is superseded.
func (s *Supervisor) pump(ctx context.Context, gen uint64, sess transport.Session) {
	for {
		f, err := sess.Receive(ctx)
		if err != nil {
			s.post(func() { s.onSessionError(gen, err) })
			return
		}
		s.post(func() {
			if gen == s.gen && s.state.Phase == PhaseOpen {
				s.handler.OnMessage(f)
			}
		})
	}
}

func (s *Supervisor) onSessionError(gen uint64, err error) {
	if gen != s.gen || s.state.Phase != PhaseOpen {
		return
	}
	slog.Warn("session lost", "run_id", s.runID, "error", err)
	s.fail(err)
}

// fail records a failed dial or lost session and decides what happens next.
func (s *Supervisor) fail(err error) {
	failuresTotal.Inc()
	wasOpen := s.state.Phase == PhaseOpen
	s.gen++
	s.teardown()
	s.state.Phase = PhaseClosed
	s.state.ConsecutiveFailures++

	if wasOpen {
		s.handler.OnClose(err)
	}

	switch {
	case s.state.Circuit == CircuitHalfOpen || s.state.ConsecutiveFailures >= s.cfg.FailureThreshold:
		s.openCircuit()
	case s.want:
		s.scheduleRetry()
	}
}

func (s *Supervisor) openCircuit() {
	circuitOpensTotal.Inc()
	s.state.Circuit = CircuitOpen
	s.state.NextRetryAt = s.clock.Now().Add(s.cfg.CoolDown)
	s.arena.Cancel(retryKey)
	slog.Warn("circuit open",
		"run_id", s.runID,
		"failures", s.state.ConsecutiveFailures,
		"cool_down", s.cfg.CoolDown)

	s.arena.Schedule(coolDownKey, s.cfg.CoolDown, func() {
		s.state.Circuit = CircuitHalfOpen
		s.state.NextRetryAt = time.Time{}
		slog.Info("circuit half-open", "run_id", s.runID)
		s.attempt()
	})
}

func (s *Supervisor) scheduleRetry() {
	delay := s.delays.Next()
	s.state.NextRetryAt = s.clock.Now().Add(delay)
	slog.Info("retry scheduled",
		"run_id", s.runID,
		"failures", s.state.ConsecutiveFailures,
		"delay", delay)

	s.arena.Schedule(retryKey, delay, func() {
		s.state.NextRetryAt = time.Time{}
		s.attempt()
	})
}

// teardown cancels the in-flight dial or pump and closes the session.
func (s *Supervisor) teardown() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.session != nil {
		if err := s.session.Close(); err != nil {
			slog.Debug("session close", "run_id", s.runID, "error", err)
		}
		s.session = nil
	}
}
