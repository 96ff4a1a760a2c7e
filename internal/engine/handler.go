package engine

import (
	"log/slog"

	"github.com/roach88/runcollab/internal/ir"
	"github.com/roach88/runcollab/internal/transport"
)

// handler receives supervisor callbacks. They already run on the executor.
type handler struct {
	e *Engine
}

func (h handler) OnOpen() {
	e := h.e
	if _, err := e.dispatcher.SendJoin(e.activeLocked()); err != nil {
		slog.Warn("join not sent", "run_id", e.runID, "error", err)
	}
	e.flushOutbox()
	e.scheduleHeartbeat()
}

func (h handler) OnClose(err error) {
	e := h.e
	e.arena.Cancel(heartbeatKey)
	if err != nil {
		slog.Info("connection lost", "run_id", e.runID, "user_id", e.userID, "error", err)
	}
}

func (h handler) OnMessage(f transport.Frame) {
	e := h.e
	switch f.Type {
	case transport.FrameMessage:
	case transport.FrameError:
		slog.Warn("server refused frame", "run_id", e.runID, "destination", f.Destination, "payload", string(f.Payload))
		return
	default:
		slog.Debug("ignoring frame", "run_id", e.runID, "type", f.Type)
		return
	}

	if f.Destination != transport.CollaborationTopic(e.runID) {
		slog.Debug("frame for another run dropped", "run_id", e.runID, "destination", f.Destination)
		return
	}

	ev, err := ir.DecodeEvent(f.Payload)
	if err != nil {
		e.log.Reject(err)
		return
	}

	wasActive := e.log.IsActive(ev.UserID)
	if !e.log.Apply(ev) {
		return
	}
	if ev.UserID == e.userID {
		delete(e.outbox, ev.ID)
	}
	e.notices.Observe(ev, wasActive)
}
