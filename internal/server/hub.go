package server

import (
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/roach88/runcollab/internal/transport"
)

// peer is one websocket connection. Writes are serialized.
type peer struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu      sync.Mutex
	encoder *json.Encoder
}

func newPeer(conn *websocket.Conn, writeTimeout time.Duration) *peer {
	return &peer{conn: conn, writeTimeout: writeTimeout, encoder: json.NewEncoder(conn)}
}

func (p *peer) writeFrame(f transport.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeTimeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	}
	return p.encoder.Encode(f)
}

// hub maps topics to their subscribers.
type hub struct {
	mu     sync.Mutex
	topics map[string]map[*peer]struct{}
}

func newHub() *hub {
	return &hub{topics: make(map[string]map[*peer]struct{})}
}

func (h *hub) subscribe(topic string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*peer]struct{})
		h.topics[topic] = subs
	}
	subs[p] = struct{}{}
}

// leave removes p from every topic and drops topics left empty.
func (h *hub) leave(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic, subs := range h.topics {
		delete(subs, p)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

func (h *hub) subscribers(topic string) []*peer {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[topic]
	out := make([]*peer, 0, len(subs))
	for p := range subs {
		out = append(out, p)
	}
	return out
}

func (h *hub) topicCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics)
}
