package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/runcollab/internal/analytics"
	"github.com/roach88/runcollab/internal/clock"
	"github.com/roach88/runcollab/internal/store"
	"github.com/roach88/runcollab/internal/telemetry"
	"github.com/roach88/runcollab/internal/timetravel"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

type errorBody struct {
	Error string `json:"error"`
}

type createRunBody struct {
	Pipeline []string `json:"pipeline"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.fail(w, nil, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "server.create_run")
	defer span.End()
	runID := r.PathValue("runID")

	var body createRunBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
		return
	}
	if err := s.store.EnsureRun(ctx, runID, body.Pipeline, clock.Millis(s.clock.Now())); err != nil {
		s.fail(w, span, "create run", err)
		return
	}
	summary, err := s.store.GetRunSummary(ctx, runID)
	if err != nil {
		s.fail(w, span, "create run", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "server.history")
	defer span.End()
	runID := r.PathValue("runID")

	rng, err := parseRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	snaps, err := s.snapshots(ctx, runID, rng)
	if err != nil {
		s.fail(w, span, "history", err)
		return
	}
	span.SetAttributes(attribute.Int("snapshots", len(snaps)))
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "server.analytics")
	defer span.End()
	runID := r.PathValue("runID")

	events, err := s.store.Events(ctx, runID)
	if err != nil {
		s.fail(w, span, "analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.Aggregate(runID, events))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "server.export")
	defer span.End()
	runID := r.PathValue("runID")
	format := r.PathValue("format")

	var (
		export      func(io.Writer, []timetravel.Snapshot) error
		contentType string
	)
	switch format {
	case FormatJSON:
		export = timetravel.ExportJSON
		contentType = "application/json"
	case FormatCSV:
		export = timetravel.ExportCSV
		contentType = "text/csv; charset=utf-8"
	default:
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("unknown export format %q", format)})
		return
	}

	snaps, err := s.snapshots(ctx, runID, timetravel.Range{})
	if err != nil {
		s.fail(w, span, "export", err)
		return
	}
	var buf bytes.Buffer
	if err := export(&buf, snaps); err != nil {
		s.fail(w, span, "export", err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ExportFilename(runID, format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// ExportFilename is the attachment name of an export.
func ExportFilename(runID, format string) string {
	return fmt.Sprintf("collaboration-%s.%s", runID, format)
}

// snapshots builds the history of runID on top of its stored pipeline.
func (s *Server) snapshots(ctx context.Context, runID string, rng timetravel.Range) ([]timetravel.Snapshot, error) {
	pipeline, err := s.store.Pipeline(ctx, runID)
	if err != nil && !errors.Is(err, store.ErrRunNotFound) {
		return nil, err
	}
	src := timetravel.EventSource{Loader: s.store, Base: pipeline}
	return src.Snapshots(ctx, runID, rng)
}

func parseRange(r *http.Request) (timetravel.Range, error) {
	var rng timetravel.Range
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int64
	}{
		{"startTimestamp", &rng.Start},
		{"endTimestamp", &rng.End},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return timetravel.Range{}, fmt.Errorf("%s must be a non-negative integer, got %q", p.name, v)
		}
		*p.dst = n
	}
	if rng.Start != 0 && rng.End != 0 && rng.End < rng.Start {
		return timetravel.Range{}, fmt.Errorf("endTimestamp %d is before startTimestamp %d", rng.End, rng.Start)
	}
	return rng, nil
}

func startSpan(r *http.Request, name string) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(r.Context(), name,
		trace.WithAttributes(attribute.String("run_id", r.PathValue("runID"))))
}

func (s *Server) fail(w http.ResponseWriter, span trace.Span, op string, err error) {
	slog.Error("api request failed", "op", op, "error", err)
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op)
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: op + " failed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}
