// Package observability holds the pipeline's Prometheus collectors. Init
// registers them once against a registry; until then every Observe call is a
// no-op so packages can be tested without metrics wiring.
package observability

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type set struct {
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	stageLatencySeconds        *prometheus.HistogramVec
	remoteCalls                *prometheus.CounterVec
	remoteLatencySeconds       *prometheus.HistogramVec
	cacheResults               *prometheus.CounterVec
	cacheOps                   *prometheus.CounterVec
	cacheOpLatencySeconds      *prometheus.HistogramVec
	cacheWriteFailures         *prometheus.CounterVec
	sceneTier                  *prometheus.CounterVec
	renderOutcomes             *prometheus.CounterVec
	invalidations              *prometheus.CounterVec
	events                     *prometheus.CounterVec
	upstreamLatencySeconds     *prometheus.HistogramVec
}

var current atomic.Pointer[set]

// Init creates and registers the collectors on reg. Calling it again swaps in
// a fresh set, which tests use to get an isolated registry.
func Init(reg prometheus.Registerer) {
	f := promauto.With(reg)
	latency := prometheus.ExponentialBuckets(0.005, 2, 12) // 5ms to ~20s
	remote := []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120}

	s := &set{
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: latency,
		}, []string{"method", "route", "status"}),
		stageLatencySeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage.",
			Buckets: remote,
		}, []string{"stage"}),
		remoteCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "remote_compute_calls_total",
			Help: "Remote compute calls by operation and outcome (ok, timeout, error).",
		}, []string{"op", "outcome"}),
		remoteLatencySeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "remote_compute_call_duration_seconds",
			Help:    "Latency of remote compute calls.",
			Buckets: remote,
		}, []string{"op"}),
		cacheResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Result cache lookups by outcome (hit_l1, hit_l2, miss).",
		}, []string{"outcome"}),
		cacheOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Redis operations by op and result.",
		}, []string{"op", "result"}),
		cacheOpLatencySeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation latency.",
			Buckets: latency,
		}, []string{"op"}),
		cacheWriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_write_failures_total",
			Help: "Result cache writes that were dropped or failed.",
		}, []string{"reason"}),
		sceneTier: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scene_resolutions_total",
			Help: "Scene resolutions by the cloud tier that produced them (none when no imagery).",
		}, []string{"tier"}),
		renderOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "render_outcomes_total",
			Help: "Render attempts by path (primary, fallback) and result.",
		}, []string{"path", "result"}),
		invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Scene-ingest invalidation events by result.",
		}, []string{"result"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "generated_events_total",
			Help: "Generated events handed to the publisher by type and result.",
		}, []string{"type", "result"}),
		upstreamLatencySeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of outbound HTTP round trips by host.",
			Buckets: remote,
		}, []string{"upstream"}),
	}
	current.Store(s)
}

func get() *set { return current.Load() }

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	s := get()
	if s == nil {
		return
	}
	st := strconv.Itoa(status)
	s.httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	s.httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveStage(stage string, durationSeconds float64) {
	if s := get(); s != nil {
		s.stageLatencySeconds.WithLabelValues(stage).Observe(durationSeconds)
	}
}

func ObserveRemoteCall(op, outcome string, durationSeconds float64) {
	if s := get(); s != nil {
		s.remoteCalls.WithLabelValues(op, outcome).Inc()
		s.remoteLatencySeconds.WithLabelValues(op).Observe(durationSeconds)
	}
}

func IncCacheResult(outcome string) {
	if s := get(); s != nil {
		s.cacheResults.WithLabelValues(outcome).Inc()
	}
}

func ObserveCacheOp(op, result string, durationSeconds float64) {
	if s := get(); s != nil {
		s.cacheOps.WithLabelValues(op, result).Inc()
		s.cacheOpLatencySeconds.WithLabelValues(op).Observe(durationSeconds)
	}
}

func IncCacheWriteFailure(reason string) {
	if s := get(); s != nil {
		s.cacheWriteFailures.WithLabelValues(reason).Inc()
	}
}

func IncSceneTier(tier string) {
	if s := get(); s != nil {
		s.sceneTier.WithLabelValues(tier).Inc()
	}
}

func IncRender(path, result string) {
	if s := get(); s != nil {
		s.renderOutcomes.WithLabelValues(path, result).Inc()
	}
}

func IncInvalidation(result string) {
	if s := get(); s != nil {
		s.invalidations.WithLabelValues(result).Inc()
	}
}

func IncEvent(typ, result string) {
	if s := get(); s != nil {
		s.events.WithLabelValues(typ, result).Inc()
	}
}

func ObserveUpstream(upstream string, durationSeconds float64) {
	if s := get(); s != nil {
		s.upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
	}
}
