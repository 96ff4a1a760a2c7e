package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/runcollab/internal/ir"
)

// marshalEvent converts an event to canonical JSON TEXT for storage.
func marshalEvent(ev ir.Event) (string, error) {
	data, err := ev.Canonical()
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return string(data), nil
}

// unmarshalEvent parses a stored payload. Stored events were validated on
// the way in, so only structural checks run here.
func unmarshalEvent(payload string) (ir.Event, error) {
	var ev ir.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ir.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return ir.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return ev, nil
}

func marshalPipeline(steps []string) (string, error) {
	if steps == nil {
		steps = []string{}
	}
	data, err := ir.MarshalCanonical(steps)
	if err != nil {
		return "", fmt.Errorf("marshal pipeline: %w", err)
	}
	return string(data), nil
}

func unmarshalPipeline(data string) ([]string, error) {
	steps := []string{}
	if data == "" {
		return steps, nil
	}
	if err := json.Unmarshal([]byte(data), &steps); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline: %w", err)
	}
	return steps, nil
}
