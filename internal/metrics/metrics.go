package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goldwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "goldwatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Poll cycle metrics
	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goldwatch_poll_cycles_total",
			Help: "Total number of poll cycles by outcome",
		},
		[]string{"outcome"}, // outcome: ok, fetch_error, persistence_error, notification_error, skipped
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "goldwatch_poll_duration_seconds",
			Help:    "Time taken by a full poll cycle",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	LatestPrice = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "goldwatch_latest_price",
			Help: "Most recently observed gold price in the configured currency and unit",
		},
	)

	// Alert metrics
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goldwatch_alerts_total",
			Help: "Alert decisions by result",
		},
		[]string{"result"}, // result: sent, failed, rate_limited, disabled
	)

	// Events
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goldwatch_events_published_total",
			Help: "Total number of events published to NATS",
		},
		[]string{"subject", "status"},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goldwatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
