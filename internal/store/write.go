package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/runcollab/internal/ir"
)

// EnsureRun registers runID with its base pipeline if it is not known yet.
// An existing run keeps its pipeline.
func (s *Store) EnsureRun(ctx context.Context, runID string, pipeline []string, createdAt int64) error {
	pipelineJSON, err := marshalPipeline(pipeline)
	if err != nil {
		return fmt.Errorf("ensure run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, pipeline, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, runID, pipelineJSON, createdAt)
	if err != nil {
		return fmt.Errorf("ensure run: %w", err)
	}
	return nil
}

// AppendEvent stores ev for runID, creating the run on first use.
// Returns inserted=false when an event with the same id is already stored.
//
// The event must be valid; the server validates at its trust boundary
// before calling.
func (s *Store) AppendEvent(ctx context.Context, runID string, ev ir.Event, receivedAt int64) (inserted bool, err error) {
	if err := ev.Validate(); err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}
	payload, err := marshalEvent(ev)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("append event: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, pipeline, created_at)
		VALUES (?, '[]', ?)
		ON CONFLICT(id) DO NOTHING
	`, runID, receivedAt); err != nil {
		return false, fmt.Errorf("append event: ensure run: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO events
		(run_id, event_id, event_type, user_id, timestamp, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, event_id) DO NOTHING
	`,
		runID,
		ev.ID,
		string(ev.Type()),
		ev.UserID,
		ev.Timestamp,
		payload,
		receivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}

	inserted, err = rowsAffected(result)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("append event: commit: %w", err)
	}
	return inserted, nil
}

func rowsAffected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
