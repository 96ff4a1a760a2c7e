package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/roach88/runcollab/internal/analytics"
	"github.com/roach88/runcollab/internal/store"
	"github.com/roach88/runcollab/internal/timetravel"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the history APIs. It implements timetravel.Source.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL, e.g.
// http://localhost:8080. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// BaseURLFromWebsocket derives the HTTP base URL from a websocket endpoint:
// ws://host:port/ws becomes http://host:port.
func BaseURLFromWebsocket(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("websocket url %q must use ws or wss", wsURL)
	}
	u.Path, u.RawQuery, u.Fragment = "", "", ""
	return u.String(), nil
}

// Snapshots fetches the history of runID within r.
func (c *Client) Snapshots(ctx context.Context, runID string, r timetravel.Range) ([]timetravel.Snapshot, error) {
	q := url.Values{}
	if r.Start != 0 {
		q.Set("startTimestamp", strconv.FormatInt(r.Start, 10))
	}
	if r.End != 0 {
		q.Set("endTimestamp", strconv.FormatInt(r.End, 10))
	}
	var snaps []timetravel.Snapshot
	if err := c.getJSON(ctx, runPath(runID, "collaboration/history"), q, &snaps); err != nil {
		return nil, fmt.Errorf("history of %s: %w", runID, err)
	}
	return snaps, nil
}

// Analytics fetches the aggregate of runID.
func (c *Client) Analytics(ctx context.Context, runID string) (analytics.Analytics, error) {
	var a analytics.Analytics
	if err := c.getJSON(ctx, runPath(runID, "collaboration/analytics"), nil, &a); err != nil {
		return analytics.Analytics{}, fmt.Errorf("analytics of %s: %w", runID, err)
	}
	return a, nil
}

// Export streams the export of runID in format (json or csv) to w.
func (c *Client) Export(ctx context.Context, runID, format string, w io.Writer) error {
	resp, err := c.do(ctx, http.MethodGet, runPath(runID, "collaboration/export/"+url.PathEscape(format)), nil, nil)
	if err != nil {
		return fmt.Errorf("export %s: %w", runID, err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("export %s: %w", runID, err)
	}
	return nil
}

// CreateRun registers runID with its base pipeline. An existing run keeps
// its pipeline.
func (c *Client) CreateRun(ctx context.Context, runID string, pipeline []string) (store.RunSummary, error) {
	body, err := json.Marshal(createRunBody{Pipeline: pipeline})
	if err != nil {
		return store.RunSummary{}, fmt.Errorf("create run %s: %w", runID, err)
	}
	resp, err := c.do(ctx, http.MethodPut, "/api/runs/"+url.PathEscape(runID), nil, bytes.NewReader(body))
	if err != nil {
		return store.RunSummary{}, fmt.Errorf("create run %s: %w", runID, err)
	}
	defer resp.Body.Close()

	var summary store.RunSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return store.RunSummary{}, fmt.Errorf("create run %s: decode: %w", runID, err)
	}
	return summary, nil
}

// Runs lists the stored runs.
func (c *Client) Runs(ctx context.Context) ([]store.RunSummary, error) {
	var runs []store.RunSummary
	if err := c.getJSON(ctx, "/api/runs", nil, &runs); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func runPath(runID, suffix string) string {
	return "/api/runs/" + url.PathEscape(runID) + "/" + suffix
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do sends a request and turns non-2xx answers into *APIError.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Response, error) {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		var eb errorBody
		msg := http.StatusText(resp.StatusCode)
		if err := json.NewDecoder(resp.Body).Decode(&eb); err == nil && eb.Error != "" {
			msg = eb.Error
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return resp, nil
}
