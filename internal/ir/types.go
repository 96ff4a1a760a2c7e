package ir

import (
	"strings"
)

// EventType names the kind of a collaboration event on the wire.
type EventType string

const (
	EventGraft      EventType = "GRAFT"
	EventPrune      EventType = "PRUNE"
	EventFlag       EventType = "FLAG"
	EventUserJoin   EventType = "USER_JOIN"
	EventUserLeave  EventType = "USER_LEAVE"
	EventCursorMove EventType = "CURSOR_MOVE"
)

// EventTypes lists every known event type in a fixed order.
var EventTypes = []EventType{
	EventGraft,
	EventPrune,
	EventFlag,
	EventUserJoin,
	EventUserLeave,
	EventCursorMove,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Payload is the sealed interface for event data.
// Only the payload types in this package implement it.
type Payload interface {
	// EventType returns the event type this payload belongs to.
	EventType() EventType

	// fields returns the payload as plain JSON values for canonical hashing.
	fields() map[string]any

	// validate reports the first missing required field, if any.
	validate() error
}

// GraftData inserts a new agent step immediately after After.
type GraftData struct {
	After     string `json:"after"`
	AgentName string `json:"agentName"`
}

func (GraftData) EventType() EventType { return EventGraft }

func (d GraftData) fields() map[string]any {
	return map[string]any{"after": d.After, "agentName": d.AgentName}
}

func (d GraftData) validate() error {
	if blank(d.After) {
		return missingField(EventGraft, "data.after")
	}
	if blank(d.AgentName) {
		return missingField(EventGraft, "data.agentName")
	}
	return nil
}

// PruneData sets or clears the tombstone bit of a step.
type PruneData struct {
	StepID   string `json:"stepId"`
	IsPruned bool   `json:"isPruned"`
}

func (PruneData) EventType() EventType { return EventPrune }

func (d PruneData) fields() map[string]any {
	return map[string]any{"stepId": d.StepID, "isPruned": d.IsPruned}
}

func (d PruneData) validate() error {
	if blank(d.StepID) {
		return missingField(EventPrune, "data.stepId")
	}
	return nil
}

// FlagData attaches a review note to a step. Note may be empty.
type FlagData struct {
	StepID string `json:"stepId"`
	Note   string `json:"note,omitempty"`
}

func (FlagData) EventType() EventType { return EventFlag }

func (d FlagData) fields() map[string]any {
	m := map[string]any{"stepId": d.StepID}
	if d.Note != "" {
		m["note"] = d.Note
	}
	return m
}

func (d FlagData) validate() error {
	if blank(d.StepID) {
		return missingField(EventFlag, "data.stepId")
	}
	return nil
}

// JoinData carries the sender's view of membership when it joined.
// Receivers never trust it; membership is re-derived from the log.
type JoinData struct {
	ActiveUsers []string `json:"activeUsers"`
}

func (JoinData) EventType() EventType { return EventUserJoin }

func (d JoinData) fields() map[string]any { return usersField(d.ActiveUsers) }

func (JoinData) validate() error { return nil }

// LeaveData carries the sender's view of membership when it left.
type LeaveData struct {
	ActiveUsers []string `json:"activeUsers"`
}

func (LeaveData) EventType() EventType { return EventUserLeave }

func (d LeaveData) fields() map[string]any { return usersField(d.ActiveUsers) }

func (LeaveData) validate() error { return nil }

// CursorData is the last-known hover target of a user.
type CursorData struct {
	NodeID string `json:"nodeId"`
}

func (CursorData) EventType() EventType { return EventCursorMove }

func (d CursorData) fields() map[string]any {
	return map[string]any{"nodeId": d.NodeID}
}

func (d CursorData) validate() error {
	if blank(d.NodeID) {
		return missingField(EventCursorMove, "data.nodeId")
	}
	return nil
}

// Event is one immutable collaboration event.
//
// The event type is not stored separately; it is derived from Data.
type Event struct {
	ID        string  // Unique per event; derived when absent on the wire
	UserID    string  // Author
	Timestamp int64   // Wall clock, milliseconds since epoch
	Data      Payload // One of the payload types above
}

// Type returns the event type derived from the payload.
// Returns "" for an event without data.
func (e Event) Type() EventType {
	if e.Data == nil {
		return ""
	}
	return e.Data.EventType()
}

// Validate checks the required fields of the event and its payload.
func (e Event) Validate() error {
	if e.Data == nil {
		return &EventError{Code: ErrCodeMissingField, Field: "data", Message: "event has no data", EventID: e.ID}
	}
	if blank(e.ID) {
		return &EventError{Code: ErrCodeMissingField, Field: "eventId", Message: "event has no id"}
	}
	if blank(e.UserID) {
		return &EventError{Code: ErrCodeMissingField, Field: "userId", Message: "event has no user", EventID: e.ID}
	}
	if e.Timestamp <= 0 {
		return &EventError{Code: ErrCodeMissingField, Field: "timestamp", Message: "event has no timestamp", EventID: e.ID}
	}
	if err := e.Data.validate(); err != nil {
		var ee *EventError
		if asEventError(err, &ee) {
			ee.EventID = e.ID
		}
		return err
	}
	return nil
}

// Target returns the step an event acts on: the anchor for GRAFT, the step
// for PRUNE and FLAG, the node for CURSOR_MOVE, and "" for presence events.
func (e Event) Target() string {
	switch d := e.Data.(type) {
	case GraftData:
		return d.After
	case PruneData:
		return d.StepID
	case FlagData:
		return d.StepID
	case CursorData:
		return d.NodeID
	default:
		return ""
	}
}

// Less reports whether a sorts before b in the deterministic log order:
// timestamp, then userId, then eventId (byte order).
func Less(a, b Event) bool {
	return Compare(a, b) < 0
}

// Compare orders events by timestamp, userId, then eventId.
func Compare(a, b Event) int {
	switch {
	case a.Timestamp < b.Timestamp:
		return -1
	case a.Timestamp > b.Timestamp:
		return 1
	}
	if c := strings.Compare(a.UserID, b.UserID); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func usersField(users []string) map[string]any {
	list := make([]any, len(users))
	for i, u := range users {
		list[i] = u
	}
	return map[string]any{"activeUsers": list}
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
