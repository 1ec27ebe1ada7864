package assetdb

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
// If registry is nil, uses the default Prometheus registry
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer.(*prometheus.Registry)
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

// registerDefaultMetrics registers the standard store metrics
func (p *PrometheusMetrics) registerDefaultMetrics() {
	// Pool counters
	p.counters[MetricAcquireSuccess] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetdb",
			Subsystem: "pool",
			Name:      "acquire_success_total",
			Help:      "Total number of successful connection acquisitions",
		},
		[]string{},
	)

	p.counters[MetricAcquireRejected] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetdb",
			Subsystem: "pool",
			Name:      "acquire_rejected_total",
			Help:      "Total number of acquisitions rejected while the pool was draining",
		},
		[]string{},
	)

	// Query counters
	p.counters[MetricQueryError] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetdb",
			Subsystem: "query",
			Name:      "errors_total",
			Help:      "Total number of failed statements",
		},
		[]string{"operation", "kind"},
	)

	p.counters[MetricRetryAttempt] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetdb",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total number of retry attempts after transient failures",
		},
		[]string{"operation"},
	)

	p.counters[MetricRetryExhausted] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetdb",
			Subsystem: "retry",
			Name:      "exhausted_total",
			Help:      "Total number of operations that exhausted their retry budget",
		},
		[]string{"operation"},
	)

	// Transaction counters
	p.counters[MetricTxBegin] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetdb",
			Subsystem: "transaction",
			Name:      "begins_total",
			Help:      "Total number of transactions started",
		},
		[]string{},
	)

	p.counters[MetricTxCommit] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetdb",
			Subsystem: "transaction",
			Name:      "commits_total",
			Help:      "Total number of transactions committed",
		},
		[]string{},
	)

	p.counters[MetricTxRollback] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetdb",
			Subsystem: "transaction",
			Name:      "rollbacks_total",
			Help:      "Total number of transactions rolled back",
		},
		[]string{},
	)

	// Recovery and reset counters
	p.counters[MetricRecoveryAttempt] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetdb",
			Subsystem: "recovery",
			Name:      "attempts_total",
			Help:      "Total number of corruption recovery attempts",
		},
		[]string{},
	)

	p.counters[MetricResetAttempt] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetdb",
			Subsystem: "reset",
			Name:      "attempts_total",
			Help:      "Total number of hard reset attempts",
		},
		[]string{},
	)

	// Timing histograms
	p.histograms[MetricQueryDuration] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "assetdb",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Statement execution duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	p.histograms[MetricAcquireWait] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "assetdb",
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for a pooled connection in seconds",
			Buckets:   []float64{.0001, .001, .005, .01, .05, .1, .5, 1, 5, 30},
		},
		[]string{},
	)

	p.histograms[MetricWriteWait] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "assetdb",
			Subsystem: "arbiter",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for the single-writer slot in seconds",
			Buckets:   []float64{.0001, .001, .005, .01, .05, .1, .5, 1, 5, 30},
		},
		[]string{},
	)

	// Gauge metrics
	p.gauges[MetricConnActive] = promauto.With(p.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "assetdb",
			Subsystem: "pool",
			Name:      "conns_active",
			Help:      "Number of connections currently checked out",
		},
		[]string{},
	)

	p.gauges[MetricBridgeInflight] = promauto.With(p.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "assetdb",
			Subsystem: "bridge",
			Name:      "inflight",
			Help:      "Number of submitted units not yet finished",
		},
		[]string{},
	)

	p.gauges[MetricAssetLockActive] = promauto.With(p.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "assetdb",
			Subsystem: "assetlock",
			Name:      "active",
			Help:      "Number of per-asset locks currently tracked",
		},
		[]string{},
	)
}

// Increment increments a Prometheus counter
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		// Create dynamic counter if it doesn't exist
		counter = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "assetdb",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic counter: " + name,
			},
			p.extractLabels(tags),
		)
		p.counters[name] = counter
	}
	p.mu.Unlock()

	labels := p.extractLabelValues(tags)
	counter.With(labels).Inc()
}

// Gauge sets a Prometheus gauge value
func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	p.mu.Lock()
	gauge, ok := p.gauges[name]
	if !ok {
		// Create dynamic gauge if it doesn't exist
		gauge = promauto.With(p.registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "assetdb",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic gauge: " + name,
			},
			p.extractLabels(tags),
		)
		p.gauges[name] = gauge
	}
	p.mu.Unlock()

	labels := p.extractLabelValues(tags)
	gauge.With(labels).Set(value)
}

// Histogram records a value in a Prometheus histogram
func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	p.mu.Lock()
	histogram, ok := p.histograms[name]
	if !ok {
		// Create dynamic histogram if it doesn't exist
		histogram = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "assetdb",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic histogram: " + name,
				Buckets:   prometheus.DefBuckets,
			},
			p.extractLabels(tags),
		)
		p.histograms[name] = histogram
	}
	p.mu.Unlock()

	labels := p.extractLabelValues(tags)
	histogram.With(labels).Observe(value)
}

// Timing records a duration in a Prometheus histogram
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

// sanitizeMetricName converts a dotted metric name into a valid
// Prometheus name. The "assetdb." prefix is stripped because the
// registered namespace already carries it.
func sanitizeMetricName(name string) string {
	name = strings.TrimPrefix(name, "assetdb.")
	return strings.ReplaceAll(name, ".", "_")
}

// extractLabels extracts label names from tags (every even index)
func (p *PrometheusMetrics) extractLabels(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	labels := make([]string, 0, len(tags)/2)
	for i := 0; i < len(tags); i += 2 {
		if i < len(tags) {
			labels = append(labels, tags[i])
		}
	}
	return labels
}

// extractLabelValues creates a label map from tags (key-value pairs)
func (p *PrometheusMetrics) extractLabelValues(tags []string) prometheus.Labels {
	if len(tags) == 0 {
		return prometheus.Labels{}
	}

	labels := make(prometheus.Labels)
	for i := 0; i < len(tags)-1; i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}

// GetRegistry returns the underlying Prometheus registry
func (p *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return p.registry
}
