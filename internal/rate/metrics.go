package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	remainingGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dreamehome_rate_limit_remaining",
			Help: "Remaining calls in the target's rate-limit window",
		},
		[]string{"target", "window"},
	)
	blockedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dreamehome_rate_limit_blocked_total",
			Help: "Calls refused by the rate-limit guard",
		},
		[]string{"target", "window"},
	)
)

// MetricsCollectors exposes shared rate-limit collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		remainingGauge,
		blockedCounter,
	}
}
