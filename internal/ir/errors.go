package ir

import (
	"errors"
	"fmt"
)

// EventError describes why an event was rejected at a decode or apply
// boundary.
//
// EventError includes structured fields so callers can count rejections by
// code and log the offending field.
type EventError struct {
	// Code identifies the error category.
	Code EventErrorCode

	// Field is the offending wire field, when known (e.g. "data.stepId").
	Field string

	// Message is a human-readable description.
	Message string

	// EventID identifies the event, when one was present or derivable.
	EventID string
}

// EventErrorCode categorizes rejected events.
type EventErrorCode string

const (
	// ErrCodeMalformedPayload indicates the message is not a JSON object.
	ErrCodeMalformedPayload EventErrorCode = "MALFORMED_PAYLOAD"

	// ErrCodeSchemaViolation indicates the message does not satisfy the wire schema.
	ErrCodeSchemaViolation EventErrorCode = "SCHEMA_VIOLATION"

	// ErrCodeUnknownEventType indicates an eventType outside the known set.
	ErrCodeUnknownEventType EventErrorCode = "UNKNOWN_EVENT_TYPE"

	// ErrCodeMissingField indicates a required field is absent or blank.
	ErrCodeMissingField EventErrorCode = "MISSING_FIELD"
)

// Error implements the error interface.
func (e *EventError) Error() string {
	switch {
	case e.Field != "" && e.EventID != "":
		return fmt.Sprintf("%s: %s (field=%s, event=%s)", e.Code, e.Message, e.Field, e.EventID)
	case e.Field != "":
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// ErrorCode returns the EventErrorCode carried by err, or "" when err is not
// an EventError. Uses errors.As to handle wrapped errors.
func ErrorCode(err error) EventErrorCode {
	var ee *EventError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsUnknownType returns true if the error is an unknown event type error.
func IsUnknownType(err error) bool {
	return ErrorCode(err) == ErrCodeUnknownEventType
}

// IsMalformed returns true if the message could not be parsed or did not
// satisfy the wire schema.
func IsMalformed(err error) bool {
	code := ErrorCode(err)
	return code == ErrCodeMalformedPayload || code == ErrCodeSchemaViolation
}

func missingField(t EventType, field string) *EventError {
	return &EventError{
		Code:    ErrCodeMissingField,
		Field:   field,
		Message: fmt.Sprintf("%s event requires %s", t, field),
	}
}

func asEventError(err error, target **EventError) bool {
	return errors.As(err, target)
}
