package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/roach88/runcollab/internal/ir"
	"github.com/roach88/runcollab/internal/transport"
)

// ErrDialRefused is returned by FakeNetwork dials that are scripted to fail.
var ErrDialRefused = errors.New("fake network: dial refused")

// ErrConnectionReset closes sessions dropped by FakeNetwork.DropAll.
var ErrConnectionReset = errors.New("fake network: connection reset")

// FakeNetwork is an in-memory pub/sub broker with the same topic semantics
// as the websocket server: publishes are validated, de-duplicated by event
// id, stored per run and fanned out to every subscriber of the run's
// collaboration topic, and a subscribe replays the stored history. A join
// from a user who is already a member is fanned out but not stored.
//
// Delivery is asynchronous through each session's transport.Inbox, so a
// publishing engine never re-enters a subscribing one.
//
// Thread-safety: All methods are safe for concurrent use.
type FakeNetwork struct {
	mu        sync.Mutex
	sessions  map[*fakeSession]struct{}
	history   map[string][]json.RawMessage
	seen      map[string]map[string]struct{}
	members   map[string]map[string]ir.Event
	failDials int
	down      bool
	dials     int
	published []transport.Frame
}

// NewFakeNetwork creates an empty broker.
func NewFakeNetwork() *FakeNetwork {
	return &FakeNetwork{
		sessions: make(map[*fakeSession]struct{}),
		history:  make(map[string][]json.RawMessage),
		seen:     make(map[string]map[string]struct{}),
		members:  make(map[string]map[string]ir.Event),
	}
}

// Dialer returns a transport.Dialer connected to this broker.
func (n *FakeNetwork) Dialer() transport.Dialer {
	return transport.DialerFunc(n.Dial)
}

// Dial opens a session unless the network is down or a failure is scripted.
func (n *FakeNetwork) Dial(ctx context.Context) (transport.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.dials++
	if n.down {
		return nil, ErrDialRefused
	}
	if n.failDials > 0 {
		n.failDials--
		return nil, ErrDialRefused
	}

	s := &fakeSession{net: n, inbox: transport.NewInbox(), subs: make(map[string]struct{})}
	n.sessions[s] = struct{}{}
	return s, nil
}

// FailNextDials makes the next count dials fail.
func (n *FakeNetwork) FailNextDials(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failDials = count
}

// SetDown makes every dial fail until SetDown(false).
func (n *FakeNetwork) SetDown(down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down = down
}

// Dials returns the number of dial attempts so far.
func (n *FakeNetwork) Dials() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials
}

// Sessions returns the number of open sessions.
func (n *FakeNetwork) Sessions() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sessions)
}

// Published returns a copy of every publish frame accepted so far,
// including duplicates.
func (n *FakeNetwork) Published() []transport.Frame {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]transport.Frame(nil), n.published...)
}

// History returns the stored events of a run in arrival order.
func (n *FakeNetwork) History(runID string) []json.RawMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]json.RawMessage(nil), n.history[runID]...)
}

// DropAll closes every open session with ErrConnectionReset, as if the
// server went away.
func (n *FakeNetwork) DropAll() {
	n.mu.Lock()
	sessions := make([]*fakeSession, 0, len(n.sessions))
	for s := range n.sessions {
		sessions = append(sessions, s)
	}
	n.sessions = make(map[*fakeSession]struct{})
	n.mu.Unlock()

	for _, s := range sessions {
		s.drop(ErrConnectionReset)
	}
}

// Inject delivers a raw payload to every subscriber of runID without
// validation or storage. Used to exercise the client's rejection path.
func (n *FakeNetwork) Inject(runID string, payload json.RawMessage) {
	n.broadcast(transport.CollaborationTopic(runID), payload)
}

func (n *FakeNetwork) publish(s *fakeSession, f transport.Frame) {
	runID, _, err := transport.ParseTopic(f.Destination)
	if err != nil {
		s.inbox.Enqueue(transport.NewErrorFrame(f.Destination, transport.CodeInvalidArgument, err.Error()))
		return
	}
	ev, err := ir.DecodeEvent(f.Payload)
	if err != nil {
		s.inbox.Enqueue(transport.NewErrorFrame(f.Destination, transport.CodeInvalidArgument, err.Error()))
		return
	}

	n.mu.Lock()
	n.published = append(n.published, f)
	ids, ok := n.seen[runID]
	if !ok {
		ids = make(map[string]struct{})
		n.seen[runID] = ids
	}
	if _, dup := ids[ev.ID]; dup {
		n.mu.Unlock()
		return
	}
	payload := append(json.RawMessage(nil), f.Payload...)
	if n.isMember(runID, ev) {
		n.mu.Unlock()
		n.broadcast(transport.CollaborationTopic(runID), payload)
		return
	}
	ids[ev.ID] = struct{}{}
	n.history[runID] = append(n.history[runID], payload)
	n.trackMembership(runID, ev)
	n.mu.Unlock()

	n.broadcast(transport.CollaborationTopic(runID), payload)
}

// isMember reports whether ev is a join from a user whose last stored
// membership event is a join. Caller holds n.mu.
func (n *FakeNetwork) isMember(runID string, ev ir.Event) bool {
	if ev.Type() != ir.EventUserJoin {
		return false
	}
	last, ok := n.members[runID][ev.UserID]
	return ok && last.Type() == ir.EventUserJoin
}

func (n *FakeNetwork) trackMembership(runID string, ev ir.Event) {
	if t := ev.Type(); t != ir.EventUserJoin && t != ir.EventUserLeave {
		return
	}
	users, ok := n.members[runID]
	if !ok {
		users = make(map[string]ir.Event)
		n.members[runID] = users
	}
	if last, ok := users[ev.UserID]; !ok || ir.Compare(last, ev) < 0 {
		users[ev.UserID] = ev
	}
}

func (n *FakeNetwork) subscribe(s *fakeSession, topic string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	s.mu.Lock()
	s.subs[topic] = struct{}{}
	s.mu.Unlock()

	runID, kind, err := transport.ParseTopic(topic)
	if err != nil || kind != "collaboration" {
		return
	}
	for _, payload := range n.history[runID] {
		s.inbox.Enqueue(transport.Frame{Type: transport.FrameMessage, Destination: topic, Payload: payload})
	}
}

func (n *FakeNetwork) broadcast(topic string, payload json.RawMessage) {
	n.mu.Lock()
	targets := make([]*fakeSession, 0, len(n.sessions))
	for s := range n.sessions {
		if s.subscribed(topic) {
			targets = append(targets, s)
		}
	}
	n.mu.Unlock()

	for _, s := range targets {
		s.inbox.Enqueue(transport.Frame{Type: transport.FrameMessage, Destination: topic, Payload: payload})
	}
}

func (n *FakeNetwork) remove(s *fakeSession) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.sessions, s)
}

type fakeSession struct {
	net   *FakeNetwork
	inbox *transport.Inbox

	mu     sync.Mutex
	subs   map[string]struct{}
	closed bool
}

func (s *fakeSession) subscribed(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[topic]
	return ok
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) Subscribe(destination string) error {
	if s.isClosed() {
		return transport.ErrClosed
	}
	s.net.subscribe(s, destination)
	return nil
}

func (s *fakeSession) Publish(destination string, payload json.RawMessage) error {
	if s.isClosed() {
		return transport.ErrClosed
	}
	s.net.publish(s, transport.Frame{Type: transport.FramePublish, Destination: destination, Payload: payload})
	return nil
}

func (s *fakeSession) Receive(ctx context.Context) (transport.Frame, error) {
	return s.inbox.Receive(ctx)
}

func (s *fakeSession) Close() error {
	s.drop(transport.ErrClosed)
	s.net.remove(s)
	return nil
}

func (s *fakeSession) drop(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.inbox.Close(err)
}
