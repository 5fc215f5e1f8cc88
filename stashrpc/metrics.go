package stashrpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "encdex_store_request_duration_seconds",
		Help:    "Time taken by store requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	RequestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encdex_store_request_errors_total",
		Help: "Store requests that returned an error",
	}, []string{"method"})
)
