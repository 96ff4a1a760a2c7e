package store

import (
	"context"
	"database/sql"
	"fmt"
)

// RunSummary describes a stored run.
type RunSummary struct {
	RunID      string   `json:"runId"`
	Pipeline   []string `json:"pipeline"`
	CreatedAt  int64    `json:"createdAt"`
	EventCount int      `json:"eventCount"`
	Users      int      `json:"users"`
	FirstEvent int64    `json:"firstEvent"` // 0 if the run has no events
	LastEvent  int64    `json:"lastEvent"`
	LastSeq    int64    `json:"lastSeq"`
}

// ListRuns returns every stored run ordered by id.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.pipeline, r.created_at,
		       COUNT(e.seq), COUNT(DISTINCT e.user_id),
		       COALESCE(MIN(e.timestamp), 0), COALESCE(MAX(e.timestamp), 0),
		       COALESCE(MAX(e.seq), 0)
		FROM runs r
		LEFT JOIN events e ON e.run_id = r.id
		GROUP BY r.id
		ORDER BY r.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		run, err := scanRunSummary(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRunSummary returns the summary of one run.
// Returns ErrRunNotFound for unknown runs.
func (s *Store) GetRunSummary(ctx context.Context, runID string) (RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.pipeline, r.created_at,
		       COUNT(e.seq), COUNT(DISTINCT e.user_id),
		       COALESCE(MIN(e.timestamp), 0), COALESCE(MAX(e.timestamp), 0),
		       COALESCE(MAX(e.seq), 0)
		FROM runs r
		LEFT JOIN events e ON e.run_id = r.id
		WHERE r.id = ?
		GROUP BY r.id
	`, runID)
	if err != nil {
		return RunSummary{}, fmt.Errorf("run summary: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return RunSummary{}, fmt.Errorf("run summary: %w", err)
		}
		return RunSummary{}, fmt.Errorf("run summary %s: %w", runID, ErrRunNotFound)
	}
	return scanRunSummary(rows)
}

func scanRunSummary(rows *sql.Rows) (RunSummary, error) {
	var run RunSummary
	var pipeline string
	if err := rows.Scan(
		&run.RunID, &pipeline, &run.CreatedAt,
		&run.EventCount, &run.Users,
		&run.FirstEvent, &run.LastEvent, &run.LastSeq,
	); err != nil {
		return RunSummary{}, fmt.Errorf("scan run: %w", err)
	}
	steps, err := unmarshalPipeline(pipeline)
	if err != nil {
		return RunSummary{}, err
	}
	run.Pipeline = steps
	return run, nil
}

// GetLastSeq returns the highest seq across all runs, or 0 if empty.
func (s *Store) GetLastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return seq, nil
}
