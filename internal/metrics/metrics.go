package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketchat_ws_connections",
			Help: "Open websocket connections",
		},
	)

	// Events counts client events by type and outcome ("ok", "rejected",
	// "rate_limited", "invalid").
	Events = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketchat_ws_events_total",
			Help: "Client events handled by the hub",
		},
		[]string{"type", "outcome"},
	)

	SlowConsumers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketchat_ws_slow_consumers_total",
			Help: "Connections evicted for not draining their send buffer",
		},
	)

	BusPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketchat_bus_published_total",
			Help: "Events published to the cross instance bus",
		},
	)

	UploadsPrepared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketchat_uploads_prepared_total",
			Help: "Signed upload urls issued",
		},
	)

	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marketchat_upload_bytes",
			Help:    "Size of stored uploads",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)
)
