package resilience

import "github.com/prometheus/client_golang/prometheus"

// Breaker health is exported per upstream so a flapping payment provider is
// visible on a dashboard before checkout conversion drops.
var (
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sika",
		Name:      "provider_breaker_state",
		Help:      "Circuit breaker position per upstream (0 closed, 1 open, 2 half-open).",
	}, []string{"target"})

	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sika",
		Name:      "provider_breaker_transitions_total",
		Help:      "Circuit breaker state transitions per upstream.",
	}, []string{"target", "from", "to"})

	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sika",
		Name:      "provider_breaker_opened_total",
		Help:      "Times the circuit breaker opened per upstream.",
	}, []string{"target"})
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal)
}
