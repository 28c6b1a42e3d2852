package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache names used as the "cache" label.
const (
	CacheClean     = "clean"
	CacheDecompose = "decompose"
)

// Metrics are the pipeline's Prometheus collectors, registered on their own
// registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cacheRequests *prometheus.CounterVec
	keptPoints    prometheus.Counter
	omittedPoints prometheus.Counter
	removedPhases prometheus.Counter
	taskDuration  *prometheus.HistogramVec
	tasksInFlight *prometheus.GaugeVec
}

// NewMetrics creates the collectors on a fresh registry that also exports the
// Go runtime and process metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lapin_cache_requests_total",
			Help: "Pipeline cache lookups by cache and result",
		}, []string{"cache", "result"}),
		keptPoints: factory.NewCounter(prometheus.CounterOpts{
			Name: "lapin_cleaned_points_total",
			Help: "Valid samples kept by the cleaner",
		}),
		omittedPoints: factory.NewCounter(prometheus.CounterOpts{
			Name: "lapin_omitted_points_total",
			Help: "Invalid samples removed by the cleaner",
		}),
		removedPhases: factory.NewCounter(prometheus.CounterOpts{
			Name: "lapin_removed_phases_total",
			Help: "Phases removed because no valid sample was left in them",
		}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lapin_task_duration_seconds",
			Help:    "Duration of background pipeline tasks",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"kind", "outcome"}),
		tasksInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lapin_tasks_in_flight",
			Help: "Background pipeline tasks currently running",
		}, []string{"kind"}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// CacheLookup counts a lookup in cache.
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(cache, result).Inc()
}

// Cleaned records the outcome of one cleaning pass.
func (m *Metrics) Cleaned(kept, omitted, removedPhases int) {
	if m == nil {
		return
	}
	m.keptPoints.Add(float64(kept))
	m.omittedPoints.Add(float64(omitted))
	m.removedPhases.Add(float64(removedPhases))
}

// TaskStarted marks a task of kind as running and returns the func to call
// when it ends.
func (m *Metrics) TaskStarted(kind string) func(err error) {
	if m == nil {
		return func(error) {}
	}
	start := time.Now()
	m.tasksInFlight.WithLabelValues(kind).Inc()
	return func(err error) {
		m.tasksInFlight.WithLabelValues(kind).Dec()
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		m.taskDuration.WithLabelValues(kind, outcome).Observe(time.Since(start).Seconds())
	}
}
