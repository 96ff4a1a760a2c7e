package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	"github.com/roach88/runcollab/internal/clock"
	"github.com/roach88/runcollab/internal/store"
)

const (
	// DefaultMaxFrameBytes bounds the payload of a publish frame.
	DefaultMaxFrameBytes = 64 << 10
	// DefaultWriteTimeout bounds each frame write to a peer.
	DefaultWriteTimeout = 5 * time.Second

	// maxDecodeErrors closes a connection that keeps sending garbage.
	maxDecodeErrors = 3
)

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock used for received-at stamps.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithMaxFrameBytes sets the largest accepted publish payload.
func WithMaxFrameBytes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxFrameBytes = n
		}
	}
}

// WithWriteTimeout sets the per-frame write deadline. Zero disables it.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// Server serves the websocket hub and the history APIs of one store.
//
// Thread-safety: Server is safe for concurrent use.
type Server struct {
	store         *store.Store
	clock         clock.Clock
	maxFrameBytes int
	writeTimeout  time.Duration
	hub           *hub
}

// New creates a server backed by st.
func New(st *store.Store, opts ...Option) *Server {
	s := &Server{
		store:         st,
		clock:         clock.System{},
		maxFrameBytes: DefaultMaxFrameBytes,
		writeTimeout:  DefaultWriteTimeout,
		hub:           newHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns every route of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", s.handleUp)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /ws", websocket.Handler(s.serveConn))

	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("PUT /api/runs/{runID}", s.handleCreateRun)
	mux.HandleFunc("GET /api/runs/{runID}/collaboration/history", s.handleHistory)
	mux.HandleFunc("GET /api/runs/{runID}/collaboration/analytics", s.handleAnalytics)
	mux.HandleFunc("GET /api/runs/{runID}/collaboration/export/{format}", s.handleExport)
	return mux
}

func (s *Server) handleUp(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
