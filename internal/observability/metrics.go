package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QuotesTotal        = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fare_engine", Name: "quotes_total", Help: "Total fare quotes computed"})
	CooldownsStarted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fare_engine", Name: "cooldowns_started_total", Help: "Total dispatch cooldowns started by non-exempt cancellations"})
	ScoresComputed     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fare_engine", Name: "scores_computed_total", Help: "Total reliability scores recomputed from the event log"})
	ThrottleRejections = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fare_engine", Name: "throttle_rejections_total", Help: "Total bid edits rejected by the sliding-window throttle"})

	FareEditsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fare_engine", Name: "fare_edits_total", Help: "Total committed-fare edit attempts by result"},
		[]string{"result"},
	)
	DeltaResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fare_engine", Name: "delta_resolutions_total", Help: "Total delta renegotiation resolutions by action"},
		[]string{"action"},
	)
	OutcomeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fare_engine", Name: "outcome_events_total", Help: "Total ride outcome events ingested by type"},
		[]string{"type"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fare_engine", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fare_engine",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
