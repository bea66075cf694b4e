package guardian

import "github.com/prometheus/client_golang/prometheus"

var (
	checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestd_guardian_checks_total",
			Help: "Guardian checks by checkpoint and verdict.",
		},
		[]string{"checkpoint", "status"},
	)
	fallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestd_guardian_fallbacks_total",
			Help: "Guardian checks that passed because the guardian could not run.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(checksTotal, fallbacksTotal)
}

// FallbacksTotal exposes the fallback counter for tests and status pages.
func FallbacksTotal() *prometheus.CounterVec { return fallbacksTotal }
