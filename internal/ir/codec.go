package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// wireEvent is the JSON shape of a CollaborationEvent.
type wireEvent struct {
	EventID   string          `json:"eventId,omitempty"`
	EventType EventType       `json:"eventType"`
	UserID    string          `json:"userId"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// wirePrune keeps isPruned as a pointer so a missing bit is detectable.
type wirePrune struct {
	StepID   string `json:"stepId"`
	IsPruned *bool  `json:"isPruned"`
}

// MarshalJSON encodes the event in the published wire format.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Data == nil {
		return nil, fmt.Errorf("marshal event %s: no data", e.ID)
	}

	var payload any = e.Data
	switch d := e.Data.(type) {
	case JoinData:
		if d.ActiveUsers == nil {
			payload = JoinData{ActiveUsers: []string{}}
		}
	case LeaveData:
		if d.ActiveUsers == nil {
			payload = LeaveData{ActiveUsers: []string{}}
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s data: %w", e.ID, err)
	}

	return json.Marshal(wireEvent{
		EventID:   e.ID,
		EventType: e.Type(),
		UserID:    e.UserID,
		Timestamp: e.Timestamp,
		Data:      data,
	})
}

// Canonical renders the event in wire format as RFC 8785 canonical JSON,
// the form kept in the history store.
func (e Event) Canonical() ([]byte, error) {
	if e.Data == nil {
		return nil, fmt.Errorf("canonical event %s: no data", e.ID)
	}
	return MarshalCanonical(map[string]any{
		"eventId":   e.ID,
		"eventType": string(e.Type()),
		"userId":    e.UserID,
		"timestamp": e.Timestamp,
		"data":      e.Data.fields(),
	})
}

// UnmarshalJSON decodes the wire format, selecting the payload type by
// eventType and deriving eventId when it is absent.
//
// UnmarshalJSON does not validate required fields; use DecodeEvent at trust
// boundaries.
func (e *Event) UnmarshalJSON(raw []byte) error {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return &EventError{Code: ErrCodeMalformedPayload, Message: err.Error()}
	}
	if !w.EventType.Valid() {
		return &EventError{
			Code:    ErrCodeUnknownEventType,
			Field:   "eventType",
			Message: fmt.Sprintf("unknown event type %q", w.EventType),
			EventID: w.EventID,
		}
	}

	data, err := decodePayload(w.EventType, w.Data)
	if err != nil {
		var ee *EventError
		if asEventError(err, &ee) {
			ee.EventID = w.EventID
		}
		return err
	}

	id := w.EventID
	if id == "" {
		id, err = DeriveEventID(w.UserID, w.EventType, w.Timestamp, data)
		if err != nil {
			return &EventError{Code: ErrCodeMalformedPayload, Message: err.Error()}
		}
	}

	*e = Event{
		ID:        id,
		UserID:    w.UserID,
		Timestamp: w.Timestamp,
		Data:      data,
	}
	return nil
}

func decodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, missingField(t, "data")
	}

	malformed := func(err error) error {
		return &EventError{Code: ErrCodeMalformedPayload, Field: "data", Message: err.Error()}
	}

	switch t {
	case EventGraft:
		var d GraftData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, malformed(err)
		}
		return d, nil
	case EventPrune:
		var w wirePrune
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, malformed(err)
		}
		if w.IsPruned == nil {
			return nil, missingField(t, "data.isPruned")
		}
		return PruneData{StepID: w.StepID, IsPruned: *w.IsPruned}, nil
	case EventFlag:
		var d FlagData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, malformed(err)
		}
		return d, nil
	case EventUserJoin:
		var d JoinData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, malformed(err)
		}
		return d, nil
	case EventUserLeave:
		var d LeaveData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, malformed(err)
		}
		return d, nil
	case EventCursorMove:
		var d CursorData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, malformed(err)
		}
		return d, nil
	default:
		return nil, &EventError{Code: ErrCodeUnknownEventType, Field: "eventType", Message: fmt.Sprintf("unknown event type %q", t)}
	}
}

// DecodeEvent is the trust boundary for inbound messages. It rejects
// non-JSON input, unknown event types, schema violations and missing
// required fields, returning an *EventError describing the first problem.
func DecodeEvent(raw []byte) (Event, error) {
	if !json.Valid(raw) {
		return Event{}, &EventError{Code: ErrCodeMalformedPayload, Message: "payload is not valid JSON"}
	}

	var head struct {
		EventID   string    `json:"eventId"`
		EventType EventType `json:"eventType"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Event{}, &EventError{Code: ErrCodeMalformedPayload, Message: err.Error()}
	}
	if !head.EventType.Valid() {
		return Event{}, &EventError{
			Code:    ErrCodeUnknownEventType,
			Field:   "eventType",
			Message: fmt.Sprintf("unknown event type %q", head.EventType),
			EventID: head.EventID,
		}
	}

	if err := DefaultValidator().Validate(raw); err != nil {
		return Event{}, err
	}

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, err
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}
