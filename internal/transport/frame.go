package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/runcollab/internal/ir"
)

// FrameType distinguishes frame kinds on the wire.
type FrameType string

const (
	// FrameSubscribe is sent by a client to start receiving a topic.
	FrameSubscribe FrameType = "subscribe"
	// FramePublish is sent by a client to publish an event to a topic.
	FramePublish FrameType = "publish"
	// FrameMessage is sent by the server for every event on a subscribed topic.
	FrameMessage FrameType = "message"
	// FrameError is sent by the server when it refuses a client frame.
	FrameError FrameType = "error"
)

// Frame is one unit on the wire.
type Frame struct {
	Type        FrameType       `json:"type"`
	Destination string          `json:"destination,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error frame codes.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeTooLarge        = "PAYLOAD_TOO_LARGE"
	CodeUnavailable     = "UNAVAILABLE"
)

// NewErrorFrame builds an error frame for destination.
func NewErrorFrame(destination, code, message string) Frame {
	payload, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	return Frame{Type: FrameError, Destination: destination, Payload: payload}
}

// CollaborationTopic is the topic every event of a run is broadcast on.
func CollaborationTopic(runID string) string {
	return "runs/" + runID + "/collaboration"
}

// PublishTopic is the destination a client publishes an event of type t to.
func PublishTopic(runID string, t ir.EventType) string {
	return "runs/" + runID + "/" + KindFor(t)
}

// KindFor maps an event type to its publish suffix.
func KindFor(t ir.EventType) string {
	switch t {
	case ir.EventGraft:
		return "graft"
	case ir.EventPrune:
		return "prune"
	case ir.EventFlag:
		return "flag"
	case ir.EventCursorMove:
		return "cursor"
	case ir.EventUserJoin:
		return "join"
	case ir.EventUserLeave:
		return "leave"
	default:
		return ""
	}
}

// ParseTopic splits "runs/{runId}/{kind}".
func ParseTopic(destination string) (runID, kind string, err error) {
	parts := strings.Split(destination, "/")
	if len(parts) != 3 || parts[0] != "runs" || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid destination %q", destination)
	}
	return parts[1], parts[2], nil
}
