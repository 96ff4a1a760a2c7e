package timetravel

import (
	"context"
	"fmt"

	"github.com/roach88/runcollab/internal/ir"
)

// Source loads the snapshots of a run.
type Source interface {
	Snapshots(ctx context.Context, runID string, r Range) ([]Snapshot, error)
}

// EventLoader loads the raw log of a run.
type EventLoader interface {
	Events(ctx context.Context, runID string) ([]ir.Event, error)
}

// EventsFunc adapts a function to EventLoader.
type EventsFunc func(ctx context.Context, runID string) ([]ir.Event, error)

// Events calls f.
func (f EventsFunc) Events(ctx context.Context, runID string) ([]ir.Event, error) {
	return f(ctx, runID)
}

// Static returns a loader that serves events for any run.
func Static(events []ir.Event) EventsFunc {
	return func(context.Context, string) ([]ir.Event, error) {
		return events, nil
	}
}

// EventSource builds snapshots locally from a raw log, such as the
// engine's own events or the history store.
type EventSource struct {
	Loader EventLoader
	Base   []string
}

// Snapshots loads the full log, builds every snapshot and then applies r.
func (s EventSource) Snapshots(ctx context.Context, runID string, r Range) ([]Snapshot, error) {
	events, err := s.Loader.Events(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load events for run %s: %w", runID, err)
	}
	return Filter(Build(s.Base, events), r), nil
}
