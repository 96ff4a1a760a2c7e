package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/runcollab/internal/ir"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestGraft(id, user string, ts int64, after, agent string) ir.Event {
	return ir.Event{ID: id, UserID: user, Timestamp: ts, Data: ir.GraftData{After: after, AgentName: agent}}
}

func createTestPrune(id, user string, ts int64, step string, pruned bool) ir.Event {
	return ir.Event{ID: id, UserID: user, Timestamp: ts, Data: ir.PruneData{StepID: step, IsPruned: pruned}}
}

func eventIDs(events []ir.Event) []string {
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	return ids
}
