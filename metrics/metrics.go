package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BootstrapAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heritage_bootstrap_attempts_total",
			Help: "Total number of bootstrap attempts by profile and result",
		},
		[]string{"profile", "result"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "heritage_bootstrap_stage_duration_seconds",
			Help:    "Time taken to run a single bootstrap stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heritage_bootstrap_stage_failures_total",
			Help: "Total number of bootstrap stage failures",
		},
		[]string{"stage"},
	)

	DegradedBoot = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "heritage_bootstrap_degraded",
			Help: "Set to 1 when the process is serving the minimal stub instance",
		},
	)

	HTTPFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heritage_http_faults_total",
			Help: "Total number of request faults handled by the error dispatcher",
		},
		[]string{"class"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heritage_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"backend"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heritage_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"backend"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heritage_cache_errors_total",
			Help: "Total number of cache errors",
		},
		[]string{"backend", "operation"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heritage_http_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)
