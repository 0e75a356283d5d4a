package backend

import "github.com/prometheus/client_golang/prometheus"

var (
	backendHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qexec_backend_health",
			Help: "Backend health: 2 available, 1 degraded, 0 unavailable.",
		},
		[]string{"backend"},
	)

	probeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qexec_backend_probe_failures_total",
			Help: "Total failed liveness probes per backend.",
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(backendHealth, probeFailures)
}

func healthValue(h Health) float64 {
	switch h {
	case HealthAvailable:
		return 2
	case HealthDegraded:
		return 1
	}
	return 0
}
