package core

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "requests_total",
		Help:      "Inbound requests by method or event.",
	}, []string{"name"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gateway",
		Name:      "request_duration_ms",
		Help:      "Time spent serving a request, in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"method"})

	pendingGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gateway",
		Name:      "pending_requests",
		Help:      "Requests waiting for approval.",
	}, []string{"chain_id"})
)

func Count(name string) {
	requestCounter.WithLabelValues(name).Inc()
}

func Time(method string, costInMs float64) {
	requestDuration.WithLabelValues(method).Observe(costInMs)
}

func setPending(chainId uint64, n int) {
	pendingGauge.WithLabelValues(strconv.FormatUint(chainId, 10)).Set(float64(n))
}
