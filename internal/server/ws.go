package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/net/websocket"

	"github.com/roach88/runcollab/internal/clock"
	"github.com/roach88/runcollab/internal/ir"
	"github.com/roach88/runcollab/internal/transport"
)

const collaborationKind = "collaboration"

func (s *Server) serveConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	p := newPeer(conn, s.writeTimeout)
	connectionsActive.Inc()
	defer connectionsActive.Dec()
	defer s.hub.leave(p)

	ctx := context.Background()
	if req := conn.Request(); req != nil {
		ctx = req.Context()
	}

	decoder := json.NewDecoder(conn)
	decodeErrors := 0
	for {
		var f transport.Frame
		if err := decoder.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			if s.reject(p, "", transport.CodeInvalidArgument, "invalid frame") != nil || decodeErrors >= maxDecodeErrors {
				return
			}
			continue
		}
		decodeErrors = 0
		framesReceivedTotal.WithLabelValues(string(f.Type)).Inc()

		switch f.Type {
		case transport.FrameSubscribe:
			s.handleSubscribe(ctx, p, f)
		case transport.FramePublish:
			s.handlePublish(ctx, p, f)
		default:
			_ = s.reject(p, f.Destination, transport.CodeInvalidArgument, "unsupported frame type")
		}
	}
}

func (s *Server) handleSubscribe(ctx context.Context, p *peer, f transport.Frame) {
	runID, kind, err := transport.ParseTopic(f.Destination)
	if err != nil || kind != collaborationKind {
		_ = s.reject(p, f.Destination, transport.CodeInvalidArgument, "subscribe requires runs/{runId}/collaboration")
		return
	}

	// Join before replaying: an event stored in between is delivered twice
	// rather than lost.
	s.hub.subscribe(f.Destination, p)

	history, err := s.store.RawEvents(ctx, runID)
	if err != nil {
		slog.Error("history replay failed", "run_id", runID, "error", err)
		_ = s.reject(p, f.Destination, transport.CodeUnavailable, "history unavailable")
		return
	}
	for _, payload := range history {
		if err := p.writeFrame(transport.Frame{Type: transport.FrameMessage, Destination: f.Destination, Payload: payload}); err != nil {
			slog.Debug("history replay interrupted", "run_id", runID, "error", err)
			return
		}
	}
	historyReplayedTotal.Add(float64(len(history)))
	slog.Info("subscribed", "run_id", runID, "replayed", len(history))
}

func (s *Server) handlePublish(ctx context.Context, p *peer, f transport.Frame) {
	if len(f.Payload) > s.maxFrameBytes {
		_ = s.reject(p, f.Destination, transport.CodeTooLarge,
			fmt.Sprintf("payload of %d bytes exceeds %d", len(f.Payload), s.maxFrameBytes))
		return
	}

	runID, kind, err := transport.ParseTopic(f.Destination)
	if err != nil || kind == collaborationKind {
		_ = s.reject(p, f.Destination, transport.CodeInvalidArgument, "publish requires runs/{runId}/{kind}")
		return
	}

	ev, err := ir.DecodeEvent(f.Payload)
	if err != nil {
		slog.Warn("rejected event", "run_id", runID, "code", ir.ErrorCode(err), "error", err)
		_ = s.reject(p, f.Destination, transport.CodeInvalidArgument, err.Error())
		return
	}
	if want := transport.KindFor(ev.Type()); want != kind {
		_ = s.reject(p, f.Destination, transport.CodeInvalidArgument,
			fmt.Sprintf("%s events are published to runs/%s/%s", ev.Type(), runID, want))
		return
	}

	// A join from a current member is a presence refresh: relayed, not
	// stored, so history and analytics only hold membership changes.
	if _, ok := ev.Data.(ir.JoinData); ok {
		member, err := s.store.IsMember(ctx, runID, ev.UserID)
		if err != nil {
			slog.Error("membership lookup failed", "run_id", runID, "user_id", ev.UserID, "error", err)
			_ = s.reject(p, f.Destination, transport.CodeUnavailable, "event not stored")
			return
		}
		if member {
			presenceRefreshTotal.Inc()
			s.relay(runID, ev)
			return
		}
	}

	inserted, err := s.store.AppendEvent(ctx, runID, ev, clock.Millis(s.clock.Now()))
	if err != nil {
		slog.Error("store event failed", "run_id", runID, "event_id", ev.ID, "error", err)
		_ = s.reject(p, f.Destination, transport.CodeUnavailable, "event not stored")
		return
	}
	if !inserted {
		eventsDuplicateTotal.Inc()
		slog.Debug("duplicate event", "run_id", runID, "event_id", ev.ID)
		return
	}
	eventsStoredTotal.WithLabelValues(string(ev.Type())).Inc()
	s.relay(runID, ev)
}

func (s *Server) relay(runID string, ev ir.Event) {
	payload, err := ev.Canonical()
	if err != nil {
		slog.Error("encode event failed", "run_id", runID, "event_id", ev.ID, "error", err)
		return
	}
	s.broadcast(transport.CollaborationTopic(runID), payload)
	slog.Debug("event published",
		"run_id", runID,
		"event_id", ev.ID,
		"event_type", ev.Type(),
		"user_id", ev.UserID)
}

func (s *Server) broadcast(topic string, payload json.RawMessage) {
	frame := transport.Frame{Type: transport.FrameMessage, Destination: topic, Payload: payload}
	for _, sub := range s.hub.subscribers(topic) {
		if err := sub.writeFrame(frame); err != nil {
			slog.Debug("broadcast write failed", "topic", topic, "error", err)
		}
	}
}

func (s *Server) reject(p *peer, destination, code, message string) error {
	framesRejectedTotal.WithLabelValues(code).Inc()
	return p.writeFrame(transport.NewErrorFrame(destination, code, message))
}
