package assetdb

import (
	"sync"
	"time"
)

// StatusExporter periodically publishes store occupancy and health
// gauges through a metrics sink, so dashboards see pool pressure and
// recovery state without polling Status themselves.
type StatusExporter struct {
	store    *Manager
	metrics  Metrics
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewStatusExporter creates an exporter for store. A nil metrics sink
// falls back to the store's own; a non-positive interval uses one
// minute.
func NewStatusExporter(store *Manager, metrics Metrics, interval time.Duration) *StatusExporter {
	if metrics == nil {
		metrics = store.metrics
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StatusExporter{
		store:    store,
		metrics:  metrics,
		interval: interval,
	}
}

// Start begins periodic export. No-op when already running.
func (e *StatusExporter) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	go e.loop(e.stopCh)
}

// Stop halts periodic export
func (e *StatusExporter) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	close(e.stopCh)
	e.running = false
}

func (e *StatusExporter) loop(stop chan struct{}) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.Export()
		}
	}
}

// Export publishes one snapshot immediately
func (e *StatusExporter) Export() {
	s := e.store.Status()
	e.metrics.Gauge(MetricStatusConnsActive, float64(s.ActiveConns))
	e.metrics.Gauge(MetricStatusConnsIdle, float64(s.IdleConns))
	e.metrics.Gauge(MetricStatusUnitsInflight, float64(s.InflightUnits))
	e.metrics.Gauge(MetricStatusTxnsActive, float64(s.ActiveTxns))
	e.metrics.Gauge(MetricStatusLocksTracked, float64(s.TrackedLocks))
	e.metrics.Gauge(MetricStatusResetting, boolGauge(s.Resetting))

	d := e.store.DiagnosticsSnapshot()
	e.metrics.Gauge(MetricStatusLockedRecent, boolGauge(d.LockedRecently))
	e.metrics.Gauge(MetricStatusMalformedRecent, boolGauge(d.MalformedRecently))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
