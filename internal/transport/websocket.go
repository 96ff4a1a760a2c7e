package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"

	"golang.org/x/net/websocket"
)

// WebsocketDialer dials the server's /ws endpoint.
type WebsocketDialer struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// Origin is sent as the Origin header. Defaults to the URL with an
	// http(s) scheme.
	Origin string
}

// Dial opens a websocket session.
func (d WebsocketDialer) Dial(ctx context.Context) (Session, error) {
	origin := d.Origin
	if origin == "" {
		origin = originFor(d.URL)
	}

	cfg, err := websocket.NewConfig(d.URL, origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return newWebsocketSession(conn), nil
}

func originFor(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "http://localhost/"
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = "/"
	u.RawQuery = ""
	return u.String()
}

type websocketSession struct {
	conn  *websocket.Conn
	inbox *Inbox

	mu      sync.Mutex
	encoder *json.Encoder
	closed  bool
}

func newWebsocketSession(conn *websocket.Conn) *websocketSession {
	s := &websocketSession{
		conn:    conn,
		inbox:   NewInbox(),
		encoder: json.NewEncoder(conn),
	}
	go s.readLoop()
	return s
}

func (s *websocketSession) readLoop() {
	decoder := json.NewDecoder(s.conn)
	for {
		var f Frame
		if err := decoder.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				s.inbox.Close(nil)
			} else {
				s.inbox.Close(fmt.Errorf("read frame: %w", err))
			}
			return
		}
		if !s.inbox.Enqueue(f) {
			return
		}
	}
}

func (s *websocketSession) write(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.encoder.Encode(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

func (s *websocketSession) Subscribe(destination string) error {
	return s.write(Frame{Type: FrameSubscribe, Destination: destination})
}

func (s *websocketSession) Publish(destination string, payload json.RawMessage) error {
	return s.write(Frame{Type: FramePublish, Destination: destination, Payload: payload})
}

func (s *websocketSession) Receive(ctx context.Context) (Frame, error) {
	return s.inbox.Receive(ctx)
}

func (s *websocketSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.inbox.Close(ErrClosed)
	err := s.conn.Close()
	if err != nil {
		slog.Debug("websocket close", "error", err)
	}
	return nil
}
