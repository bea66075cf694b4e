package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestd_model_loads_total",
			Help: "Model loads by runner and result.",
		},
		[]string{"runner", "result"},
	)
	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestd_model_evictions_total",
			Help: "Models evicted to make room for another load.",
		},
		[]string{"runner"},
	)
	loadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestd_model_load_seconds",
			Help:    "Time spent in Runner.Load.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"runner"},
	)
	accountedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestd_model_memory_bytes",
			Help: "Accounted memory of resident models.",
		},
	)
	busyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestd_admission_rejections_total",
			Help: "Requests rejected by execution admission.",
		},
		[]string{"runner", "reason"},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, evictionsTotal, loadDuration, accountedBytes, busyTotal)
}
