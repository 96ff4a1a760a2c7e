package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dialAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runcollab_supervisor_dial_attempts_total",
		Help: "Total number of connection attempts",
	})

	failuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runcollab_supervisor_failures_total",
		Help: "Number of failed dials and dropped sessions",
	})

	circuitOpensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runcollab_supervisor_circuit_opens_total",
		Help: "Number of times the circuit breaker opened",
	})

	droppedSendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runcollab_supervisor_dropped_sends_total",
		Help: "Number of outbound events dropped because the session was not open",
	})
)
