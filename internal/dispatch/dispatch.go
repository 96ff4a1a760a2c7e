// Package dispatch validates local mutation intents, turns them into
// events, folds them into the local log and forwards them to the server.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/runcollab/internal/clock"
	"github.com/roach88/runcollab/internal/ir"
	"github.com/roach88/runcollab/internal/transport"
)

// ErrInvalidIntent is returned when an intent is missing a required input.
// No event is created and nothing is sent.
var ErrInvalidIntent = errors.New("invalid intent")

// Applier folds an event into the local log.
type Applier interface {
	Apply(ev ir.Event) bool
}

// Sender forwards a payload to a destination, reporting whether it was
// written. A false return means the intent was dropped.
type Sender interface {
	Send(destination string, payload json.RawMessage) bool
}

// Result describes a dispatched intent.
type Result struct {
	Event ir.Event
	// Sent is false when the connection was not open and the event only
	// exists locally.
	Sent bool
}

// Dispatcher synthesizes events for one user in one run.
type Dispatcher struct {
	userID string
	runID  string
	clock  clock.Clock
	ids    ir.IDGenerator
	log    Applier
	sender Sender
}

// New creates a dispatcher.
func New(userID, runID string, clk clock.Clock, ids ir.IDGenerator, log Applier, sender Sender) *Dispatcher {
	return &Dispatcher{
		userID: userID,
		runID:  runID,
		clock:  clk,
		ids:    ids,
		log:    log,
		sender: sender,
	}
}

// SendGraft inserts agentName after the step after.
func (d *Dispatcher) SendGraft(after, agentName string) (Result, error) {
	if blank(after) || blank(agentName) {
		return Result{}, fmt.Errorf("%w: graft requires after and agentName", ErrInvalidIntent)
	}
	return d.dispatch(ir.GraftData{After: after, AgentName: agentName})
}

// SendPrune sets or clears the tombstone bit of stepID.
func (d *Dispatcher) SendPrune(stepID string, isPruned bool) (Result, error) {
	if blank(stepID) {
		return Result{}, fmt.Errorf("%w: prune requires stepId", ErrInvalidIntent)
	}
	return d.dispatch(ir.PruneData{StepID: stepID, IsPruned: isPruned})
}

// SendFlag attaches note to stepID. The note may be empty.
func (d *Dispatcher) SendFlag(stepID, note string) (Result, error) {
	if blank(stepID) {
		return Result{}, fmt.Errorf("%w: flag requires stepId", ErrInvalidIntent)
	}
	return d.dispatch(ir.FlagData{StepID: stepID, Note: note})
}

// SendCursorMove publishes the node the user is hovering.
func (d *Dispatcher) SendCursorMove(nodeID string) (Result, error) {
	if blank(nodeID) {
		return Result{}, fmt.Errorf("%w: cursor move requires nodeId", ErrInvalidIntent)
	}
	return d.dispatch(ir.CursorData{NodeID: nodeID})
}

// SendJoin announces the user. activeUsers is the sender's current view.
func (d *Dispatcher) SendJoin(activeUsers []string) (Result, error) {
	return d.dispatch(ir.JoinData{ActiveUsers: activeUsers})
}

// SendLeave announces that the user is leaving.
func (d *Dispatcher) SendLeave(activeUsers []string) (Result, error) {
	return d.dispatch(ir.LeaveData{ActiveUsers: activeUsers})
}

func (d *Dispatcher) dispatch(data ir.Payload) (Result, error) {
	ev := ir.Event{
		ID:        d.ids.Generate(),
		UserID:    d.userID,
		Timestamp: clock.Millis(d.clock.Now()),
		Data:      data,
	}
	if err := ev.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return Result{}, fmt.Errorf("marshal %s event: %w", ev.Type(), err)
	}

	d.log.Apply(ev)
	sent := d.sender.Send(transport.PublishTopic(d.runID, ev.Type()), payload)
	if !sent {
		slog.Debug("intent kept locally, connection not open",
			"run_id", d.runID,
			"event_id", ev.ID,
			"event_type", ev.Type())
	}
	return Result{Event: ev, Sent: sent}, nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
