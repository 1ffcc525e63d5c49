// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for place resolution and mention recording.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolve outcomes
const (
	OutcomeAliasHit  = "alias_hit"
	OutcomeMasterHit = "master_hit"
	OutcomeCacheHit  = "cache_hit"
	OutcomeCreated   = "created"
	OutcomeConflict  = "conflict"
	OutcomeShared    = "shared" // Joined an in-flight creation of the same key
	OutcomeRejected  = "rejected"
	OutcomeInvalid   = "invalid"
	OutcomeTransient = "transient"
	OutcomeError     = "error"
)

// Oracle outcomes
const (
	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomeSkipped  = "skipped"
	OutcomeAccepted = "accepted"
	OutcomeUnsure   = "unsure"
)

// Mention outcomes
const (
	OutcomeRecorded  = "recorded"
	OutcomeDuplicate = "duplicate"
)

// Metrics holds the Prometheus collectors for the resolution engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	resolveTotal    *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
	geocodeTotal    *prometheus.CounterVec
	validationTotal *prometheus.CounterVec
	mentionsTotal   *prometheus.CounterVec
	cacheTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics on registry
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.resolveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placemaster_resolve_total",
			Help: "Total number of resolve calls by outcome",
		},
		[]string{"outcome"},
	)

	m.resolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "placemaster_resolve_duration_seconds",
			Help: "Time taken to resolve a place name",
			// 1ms to ~16s, oracle round trips dominate the upper buckets
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"outcome"},
	)

	m.geocodeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placemaster_geocode_total",
			Help: "Total number of geocoding attempts by outcome",
		},
		[]string{"outcome"},
	)

	m.validationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placemaster_validation_total",
			Help: "Total number of validation oracle calls by outcome",
		},
		[]string{"outcome"},
	)

	m.mentionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placemaster_mentions_total",
			Help: "Total number of mention record calls by outcome",
		},
		[]string{"outcome"},
	)

	m.cacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placemaster_cache_total",
			Help: "Read-through cache lookups by result",
		},
		[]string{"cache", "result"}, // result: hit, miss
	)
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.resolveTotal.Describe(ch)
	m.resolveDuration.Describe(ch)
	m.geocodeTotal.Describe(ch)
	m.validationTotal.Describe(ch)
	m.mentionsTotal.Describe(ch)
	m.cacheTotal.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.resolveTotal.Collect(ch)
	m.resolveDuration.Collect(ch)
	m.geocodeTotal.Collect(ch)
	m.validationTotal.Collect(ch)
	m.mentionsTotal.Collect(ch)
	m.cacheTotal.Collect(ch)
}

// RecordResolve records one resolve call
func (m *Metrics) RecordResolve(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.resolveTotal.WithLabelValues(outcome).Inc()
	m.resolveDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordGeocode records one geocoding attempt
func (m *Metrics) RecordGeocode(outcome string) {
	if m == nil {
		return
	}
	m.geocodeTotal.WithLabelValues(outcome).Inc()
}

// RecordValidation records one validation oracle call
func (m *Metrics) RecordValidation(outcome string) {
	if m == nil {
		return
	}
	m.validationTotal.WithLabelValues(outcome).Inc()
}

// RecordMention records one mention record call
func (m *Metrics) RecordMention(outcome string) {
	if m == nil {
		return
	}
	m.mentionsTotal.WithLabelValues(outcome).Inc()
}

// RecordCache records a cache lookup
func (m *Metrics) RecordCache(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheTotal.WithLabelValues(cache, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
