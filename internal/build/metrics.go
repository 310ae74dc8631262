package build

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks build performance. Counters are exported to Prometheus
// through Registry; Snapshot serves the JSON status endpoint.
type Metrics struct {
	Registry *prometheus.Registry

	builds           *prometheus.CounterVec
	duration         prometheus.Histogram
	cacheRequests    *prometheus.CounterVec
	modules          prometheus.Counter
	outputBytes      *prometheus.GaugeVec
	optimizeFailures prometheus.Counter

	mutex    sync.RWMutex
	snapshot BuildMetrics
}

// BuildMetrics is the summary reported by the status endpoint.
type BuildMetrics struct {
	TotalBuilds      int64         `json:"total_builds"`
	SuccessfulBuilds int64         `json:"successful_builds"`
	FailedBuilds     int64         `json:"failed_builds"`
	CacheHits        int64         `json:"cache_hits"`
	CacheMisses      int64         `json:"cache_misses"`
	AverageDuration  time.Duration `json:"average_duration"`
	TotalDuration    time.Duration `json:"total_duration"`
	LastDuration     time.Duration `json:"last_duration"`
}

// NewMetrics creates the collectors on a private registry so several
// pipelines, as in tests, never collide on registration.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		builds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetforge_builds_total",
				Help: "Number of builds by result.",
			},
			[]string{"result"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "assetforge_build_duration_seconds",
				Help:    "Time taken by a full or incremental build.",
				Buckets: prometheus.DefBuckets,
			},
		),
		cacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetforge_transform_cache_requests_total",
				Help: "Transform cache lookups by result.",
			},
			[]string{"result"},
		),
		modules: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assetforge_modules_transformed_total",
				Help: "Modules run through a transform chain.",
			},
		),
		outputBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "assetforge_output_bytes",
				Help: "Size of the last emitted files by chunk and kind.",
			},
			[]string{"chunk", "kind"},
		),
		optimizeFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assetforge_optimize_failures_total",
				Help: "Chunks dropped because optimization failed.",
			},
		),
	}

	m.Registry.MustRegister(
		m.builds,
		m.duration,
		m.cacheRequests,
		m.modules,
		m.outputBytes,
		m.optimizeFailures,
	)
	return m
}

// RecordBuild records one finished build.
func (m *Metrics) RecordBuild(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.builds.WithLabelValues(result).Inc()
	m.duration.Observe(duration.Seconds())

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.snapshot.TotalBuilds++
	m.snapshot.TotalDuration += duration
	m.snapshot.LastDuration = duration
	if err != nil {
		m.snapshot.FailedBuilds++
	} else {
		m.snapshot.SuccessfulBuilds++
	}
	m.snapshot.AverageDuration = m.snapshot.TotalDuration / time.Duration(m.snapshot.TotalBuilds)
}

// RecordCache records a transform cache lookup.
func (m *Metrics) RecordCache(hit bool) {
	m.mutex.Lock()
	if hit {
		m.snapshot.CacheHits++
	} else {
		m.snapshot.CacheMisses++
	}
	m.mutex.Unlock()

	if hit {
		m.cacheRequests.WithLabelValues("hit").Inc()
	} else {
		m.cacheRequests.WithLabelValues("miss").Inc()
		m.modules.Inc()
	}
}

// RecordOutput records the size of an emitted file.
func (m *Metrics) RecordOutput(chunk, kind string, size int) {
	m.outputBytes.WithLabelValues(chunk, kind).Set(float64(size))
}

// RecordOptimizeFailures counts dropped chunks.
func (m *Metrics) RecordOptimizeFailures(n int) {
	m.optimizeFailures.Add(float64(n))
}

// Snapshot returns a copy of the summary.
func (m *Metrics) Snapshot() BuildMetrics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.snapshot
}

// SuccessRate returns the share of successful builds as a percentage.
func (s BuildMetrics) SuccessRate() float64 {
	if s.TotalBuilds == 0 {
		return 0
	}
	return float64(s.SuccessfulBuilds) / float64(s.TotalBuilds) * 100
}

// CacheHitRate returns the share of cache hits as a percentage.
func (s BuildMetrics) CacheHitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total) * 100
}
