package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/runcollab/internal/ir"
)

// ErrRunNotFound is returned for a run with no stored record.
var ErrRunNotFound = errors.New("run not found")

// Events returns every event of runID in deterministic log order:
// ORDER BY timestamp, user_id, event_id with BINARY collation, matching
// ir.Compare.
//
// Returns an empty slice (not nil) for unknown runs.
func (s *Store) Events(ctx context.Context, runID string) ([]ir.Event, error) {
	return s.readEvents(ctx, `
		SELECT payload FROM events
		WHERE run_id = ?
		ORDER BY timestamp ASC, user_id COLLATE BINARY ASC, event_id COLLATE BINARY ASC
	`, runID)
}

// ArrivalOrder returns every event of runID in the order it was stored.
func (s *Store) ArrivalOrder(ctx context.Context, runID string) ([]ir.Event, error) {
	return s.readEvents(ctx, `
		SELECT payload FROM events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
}

// RawEvents returns the stored payloads of runID in arrival order, ready to
// replay to a subscriber.
func (s *Store) RawEvents(ctx context.Context, runID string) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query raw events: %w", err)
	}
	defer rows.Close()

	out := []json.RawMessage{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan raw event: %w", err)
		}
		out = append(out, json.RawMessage(payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw events: %w", err)
	}
	return out, nil
}

func (s *Store) readEvents(ctx context.Context, query, runID string) ([]ir.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []ir.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (ir.Event, error) {
	var payload string
	if err := rows.Scan(&payload); err != nil {
		return ir.Event{}, fmt.Errorf("scan event: %w", err)
	}
	return unmarshalEvent(payload)
}

// ReadEvent returns one stored event.
// Returns sql.ErrNoRows if it does not exist.
func (s *Store) ReadEvent(ctx context.Context, runID, eventID string) (ir.Event, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM events WHERE run_id = ? AND event_id = ?
	`, runID, eventID).Scan(&payload)
	if err != nil {
		return ir.Event{}, fmt.Errorf("read event %s: %w", eventID, err)
	}
	return unmarshalEvent(payload)
}

// IsMember reports whether the last stored USER_JOIN or USER_LEAVE of
// userID in runID, in log order, is a join.
func (s *Store) IsMember(ctx context.Context, runID, userID string) (bool, error) {
	var eventType string
	err := s.db.QueryRowContext(ctx, `
		SELECT event_type FROM events
		WHERE run_id = ? AND user_id = ? AND event_type IN (?, ?)
		ORDER BY timestamp DESC, event_id COLLATE BINARY DESC
		LIMIT 1
	`, runID, userID, string(ir.EventUserJoin), string(ir.EventUserLeave)).Scan(&eventType)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return eventType == string(ir.EventUserJoin), nil
}

// Pipeline returns the base pipeline of runID.
// Returns ErrRunNotFound for unknown runs.
func (s *Store) Pipeline(ctx context.Context, runID string) ([]string, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT pipeline FROM runs WHERE id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pipeline of %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline of %s: %w", runID, err)
	}
	return unmarshalPipeline(data)
}
