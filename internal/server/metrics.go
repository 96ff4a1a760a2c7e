package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "runcollab_server_connections_active",
		Help: "Number of open websocket connections",
	})

	framesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runcollab_server_frames_received_total",
		Help: "Total number of frames received from clients",
	}, []string{"type"})

	framesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runcollab_server_frames_rejected_total",
		Help: "Number of client frames answered with an error frame",
	}, []string{"code"})

	eventsStoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runcollab_server_events_stored_total",
		Help: "Total number of events stored and broadcast",
	}, []string{"event_type"})

	eventsDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runcollab_server_events_duplicate_total",
		Help: "Number of published events already stored",
	})

	presenceRefreshTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runcollab_server_presence_refresh_total",
		Help: "Number of joins from current members relayed without storing",
	})

	historyReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runcollab_server_history_replayed_total",
		Help: "Total number of stored events replayed to new subscribers",
	})
)
