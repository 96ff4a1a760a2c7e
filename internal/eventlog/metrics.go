package eventlog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runcollab_eventlog_applied_total",
		Help: "Total number of events appended to collaboration logs",
	}, []string{"event_type"})

	eventsDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runcollab_eventlog_duplicate_total",
		Help: "Number of events ignored because their id was already applied",
	})

	eventsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runcollab_eventlog_rejected_total",
		Help: "Number of inbound messages rejected at the log boundary",
	}, []string{"code"})

	refoldsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runcollab_eventlog_refolds_total",
		Help: "Number of full refolds caused by out-of-order arrivals",
	})
)
