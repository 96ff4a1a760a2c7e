package harness

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/runcollab/internal/dispatch"
	"github.com/roach88/runcollab/internal/eventlog"
	"github.com/roach88/runcollab/internal/ir"
	"github.com/roach88/runcollab/internal/testutil"
)

// Epoch is the clock origin of every scenario: 2024-01-01T00:00:00Z.
var Epoch = time.UnixMilli(1_704_067_200_000).UTC()

// replica is one user's view of the run.
type replica struct {
	user       string
	log        *eventlog.Log
	dispatcher *dispatch.Dispatcher
	online     bool
	delivered  map[string]bool
}

// Harness executes one scenario.
type Harness struct {
	scenario *Scenario
	clock    *testutil.FakeClock
	replicas map[string]*replica
	bus      []ir.Event
	result   *Result
}

// busSender publishes a replica's events on the shared bus.
type busSender struct {
	h *Harness
	r *replica
}

// Send decodes payload at the trust boundary, as the server would, and
// appends it to the bus. Returns false while the replica is offline.
func (s busSender) Send(destination string, payload json.RawMessage) bool {
	if !s.r.online {
		return false
	}
	ev, err := ir.DecodeEvent(payload)
	if err != nil {
		s.h.result.AddError(fmt.Sprintf("%s published an invalid event to %s: %v", s.r.user, destination, err))
		return false
	}
	s.h.bus = append(s.h.bus, ev)
	s.r.delivered[ev.ID] = true
	return true
}

// New creates a harness for scenario. Every replica starts online with an
// empty log seeded with the scenario pipeline.
func New(scenario *Scenario) *Harness {
	h := &Harness{
		scenario: scenario,
		clock:    testutil.NewFakeClockAt(Epoch),
		replicas: make(map[string]*replica, len(scenario.Replicas)),
		result:   NewResult(),
	}
	for _, user := range scenario.Replicas {
		r := &replica{
			user:      user,
			log:       eventlog.New(eventlog.WithBase(scenario.Pipeline), eventlog.WithRunID(scenario.RunID)),
			online:    true,
			delivered: make(map[string]bool),
		}
		r.dispatcher = dispatch.New(user, scenario.RunID, h.clock, ir.NewSequenceGenerator(user), r.log, busSender{h: h, r: r})
		h.replicas[user] = r
	}
	return h
}

// Run executes scenario and evaluates its assertions.
func Run(scenario *Scenario) (*Result, error) {
	if scenario == nil {
		return nil, errors.New("nil scenario")
	}
	return New(scenario).Run(), nil
}

// Run executes every step, syncs the online replicas once more and
// evaluates the assertions.
func (h *Harness) Run() *Result {
	slog.Debug("running scenario", "scenario", h.scenario.Name, "run_id", h.scenario.RunID)

	for i, step := range h.scenario.Steps {
		if err := h.execute(step); err != nil {
			h.result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
		}
	}
	h.sync()

	for _, user := range h.scenario.Replicas {
		r := h.replicas[user]
		h.result.States[user] = r.log.Snapshot()
		h.result.Logs[user] = eventlog.Order(r.log.All())
	}
	h.result.Published = slices.Clone(h.bus)
	h.result.Converged = converged(h.scenario.Replicas, h.result.States)

	for i, a := range h.scenario.Assertions {
		for _, msg := range checkAssertion(h.result, h.scenario, a) {
			h.result.AddError(fmt.Sprintf("assertions[%d] (%s): %s", i, a.Type, msg))
		}
	}
	return h.result
}

func (h *Harness) execute(step Step) error {
	switch {
	case step.Offline != "":
		h.replicas[step.Offline].online = false
		return nil
	case step.Online != "":
		h.replicas[step.Online].online = true
		return nil
	case step.Sync:
		h.sync()
		return nil
	}

	h.tick(step.At)
	r := h.replicas[step.User]
	_, err := h.intent(r, step)

	switch {
	case step.ExpectError == ExpectInvalidIntent:
		if !errors.Is(err, dispatch.ErrInvalidIntent) {
			return fmt.Errorf("expected invalid intent, got %v", err)
		}
		return nil
	case err != nil:
		return err
	}
	return nil
}

func (h *Harness) intent(r *replica, step Step) (dispatch.Result, error) {
	d := r.dispatcher
	switch {
	case step.Graft != nil:
		return d.SendGraft(step.Graft.After, step.Graft.Agent)
	case step.Prune != nil:
		return d.SendPrune(step.Prune.Step, step.Prune.Pruned)
	case step.Flag != nil:
		return d.SendFlag(step.Flag.Step, step.Flag.Note)
	case step.Cursor != "":
		return d.SendCursorMove(step.Cursor)
	case step.Join:
		return d.SendJoin(r.log.Snapshot().ActiveUsers)
	default:
		return d.SendLeave(r.log.Snapshot().ActiveUsers)
	}
}

// tick moves the clock to Epoch+at, or one second forward when at is zero.
func (h *Harness) tick(at int64) {
	if at > 0 {
		h.clock.Set(Epoch.Add(time.Duration(at) * time.Millisecond))
		return
	}
	h.clock.Advance(time.Second)
}

// sync delivers every bus event each online replica has not seen, in the
// scenario's delivery order.
func (h *Harness) sync() {
	for _, user := range h.scenario.Replicas {
		r := h.replicas[user]
		if !r.online {
			continue
		}
		var pending []ir.Event
		for _, ev := range h.bus {
			if !r.delivered[ev.ID] {
				pending = append(pending, ev)
			}
		}
		for _, ev := range deliveryOrder(h.scenario.Delivery, pending) {
			r.log.Apply(ev)
			r.delivered[ev.ID] = true
		}
	}
}

func deliveryOrder(delivery string, events []ir.Event) []ir.Event {
	switch delivery {
	case DeliveryReversed:
		out := slices.Clone(events)
		slices.Reverse(out)
		return out
	case DeliveryDuplicated:
		out := make([]ir.Event, 0, 2*len(events))
		for _, ev := range events {
			out = append(out, ev, ev)
		}
		return out
	default:
		return events
	}
}

func converged(users []string, states map[string]eventlog.State) bool {
	for _, user := range users[1:] {
		if !states[users[0]].Equal(states[user]) {
			return false
		}
	}
	return true
}
