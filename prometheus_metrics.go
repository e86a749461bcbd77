package lexibase

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements the Metrics interface using Prometheus
type PrometheusMetrics struct {
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
// If registry is nil, a fresh registry is created
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registry:   registry,
	}

	pm.registerDefaultMetrics()
	return pm
}

func (p *PrometheusMetrics) counter(key, subsystem, name, help string, labels ...string) {
	p.counters[key] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lexibase",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// registerDefaultMetrics registers all standard lexibase metrics
func (p *PrometheusMetrics) registerDefaultMetrics() {
	p.counter(MetricBackendOps, "backend", "operations_total", "Total number of backend operations", "operation", "backend")
	p.counter(MetricBackendErrors, "backend", "errors_total", "Total number of backend errors", "operation", "backend")
	p.counter(MetricTransactionCommit, "transaction", "commits_total", "Committed collection transactions", "collection")
	p.counter(MetricTransactionRollback, "transaction", "rollbacks_total", "Rolled back collection transactions", "collection")
	p.counter(MetricIndexLookups, "index", "lookups_total", "Secondary index lookups", "collection", "index")
	p.counter(MetricIndexStale, "index", "stale_total", "Index entries pointing at missing records", "collection")
	p.counter(MetricMigrationRuns, "migration", "runs_total", "Legacy migration attempts by outcome", "outcome")
	p.counter(MetricBackupCreated, "backup", "created_total", "Backups created by kind", "kind")
	p.counter(MetricBackupPruned, "backup", "pruned_total", "Automatic backups removed by retention")
	p.counter(MetricBackupRestored, "backup", "restored_total", "Backups restored")
	p.counter(MetricFallback, "store", "fallbacks_total", "Sessions that fell back to the simple store", "reason")

	p.histograms[MetricBackendLatency] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lexibase",
			Subsystem: "backend",
			Name:      "operation_duration_seconds",
			Help:      "Backend operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "backend"},
	)

	p.histograms[MetricMigrationDuration] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lexibase",
			Subsystem: "migration",
			Name:      "duration_seconds",
			Help:      "Legacy migration duration in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{},
	)

	p.gauges[MetricActiveBackend] = promauto.With(p.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lexibase",
			Subsystem: "store",
			Name:      "active_backend",
			Help:      "1 for the backend serving the current session",
		},
		[]string{"type"},
	)
}

// Increment increments a Prometheus counter
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		counter = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lexibase",
				Name:      dynamicName(name),
				Help:      "Dynamic counter: " + name,
			},
			extractLabels(tags),
		)
		p.counters[name] = counter
	}
	p.mu.Unlock()

	counter.With(extractLabelValues(tags)).Inc()
}

// Gauge sets a Prometheus gauge value
func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	p.mu.Lock()
	gauge, ok := p.gauges[name]
	if !ok {
		gauge = promauto.With(p.registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "lexibase",
				Name:      dynamicName(name),
				Help:      "Dynamic gauge: " + name,
			},
			extractLabels(tags),
		)
		p.gauges[name] = gauge
	}
	p.mu.Unlock()

	gauge.With(extractLabelValues(tags)).Set(value)
}

// Histogram records a value in a Prometheus histogram
func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	p.mu.Lock()
	histogram, ok := p.histograms[name]
	if !ok {
		histogram = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lexibase",
				Name:      dynamicName(name),
				Help:      "Dynamic histogram: " + name,
				Buckets:   prometheus.DefBuckets,
			},
			extractLabels(tags),
		)
		p.histograms[name] = histogram
	}
	p.mu.Unlock()

	histogram.With(extractLabelValues(tags)).Observe(value)
}

// Timing records a duration in a Prometheus histogram
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

// Registry returns the underlying Prometheus registry
func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

// dynamicName turns "lexibase.cache.hits" into "cache_hits"
func dynamicName(name string) string {
	name = strings.TrimPrefix(name, "lexibase.")
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

// extractLabels extracts label names from tags (every even index)
func extractLabels(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	labels := make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

// extractLabelValues creates a label map from tags (key-value pairs)
func extractLabelValues(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels)
	for i := 0; i+1 < len(tags); i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}
