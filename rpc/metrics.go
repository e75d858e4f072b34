package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "JSON-RPC requests by method and outcome.",
	}, []string{"method", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "escrowd",
		Subsystem: "rpc",
		Name:      "request_duration_seconds",
		Help:      "JSON-RPC request handling time by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
)

func observeRequest(method, outcome string, elapsed time.Duration) {
	requestCount.WithLabelValues(method, outcome).Inc()
	requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
