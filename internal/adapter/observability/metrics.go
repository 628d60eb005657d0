package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keypool_selections_total",
			Help: "Total number of key selection attempts by outcome (selected, exhausted)",
		},
		[]string{"outcome"},
	)
	OutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keypool_outcomes_total",
			Help: "Total number of reported key usage outcomes",
		},
		[]string{"outcome"},
	)
	KeysInCooldown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keypool_keys_in_cooldown",
			Help: "Number of keys currently in cooldown",
		},
	)
	StateErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keypool_state_errors_total",
			Help: "Total number of absorbed state store faults by operation",
		},
		[]string{"op"},
	)
)

// InitMetrics registers all pool metrics once per process so that the owning
// service's /metrics endpoint exposes them.
func InitMetrics() {
	prometheus.MustRegister(SelectionsTotal)
	prometheus.MustRegister(OutcomesTotal)
	prometheus.MustRegister(KeysInCooldown)
	prometheus.MustRegister(StateErrorsTotal)
}
