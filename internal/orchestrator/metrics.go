package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestd_requests_total",
			Help: "Orchestrated requests by capability, mode and outcome.",
		},
		[]string{"capability", "mode", "outcome"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestd_request_duration_seconds",
			Help:    "End-to-end orchestration latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"capability", "mode"},
	)
	streamChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestd_stream_chunks_total",
			Help: "Streamed chunks delivered to callers.",
		},
		[]string{"capability"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, streamChunksTotal)
}
