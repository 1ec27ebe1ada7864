package assetdb

import (
	"sync"
	"time"
)

// Metrics provides observability for store operations
type Metrics interface {
	// Increment increases a counter by 1
	Increment(name string, tags ...string)

	// Gauge sets an absolute value
	Gauge(name string, value float64, tags ...string)

	// Histogram records a value distribution (latency, size, etc)
	Histogram(name string, value float64, tags ...string)

	// Timing records a duration
	Timing(name string, duration time.Duration, tags ...string)
}

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func (m *NoOpMetrics) Increment(name string, tags ...string)                      {}
func (m *NoOpMetrics) Gauge(name string, value float64, tags ...string)           {}
func (m *NoOpMetrics) Histogram(name string, value float64, tags ...string)       {}
func (m *NoOpMetrics) Timing(name string, duration time.Duration, tags ...string) {}

// InMemoryMetrics stores metrics in memory for testing
type InMemoryMetrics struct {
	mu         sync.Mutex
	Counters   map[string]int
	Gauges     map[string]float64
	Histograms map[string][]float64
	Timings    map[string][]time.Duration
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		Counters:   make(map[string]int),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string][]float64),
		Timings:    make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Increment(name string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name]++
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gauges[name] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Histograms[name] = append(m.Histograms[name], value)
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Timings[name] = append(m.Timings[name], duration)
}

// Counter returns the current value of a counter
func (m *InMemoryMetrics) Counter(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counters[name]
}

// Common metric names
const (
	MetricAcquireSuccess  = "assetdb.pool.acquire.success"
	MetricAcquireError    = "assetdb.pool.acquire.error"
	MetricAcquireRejected = "assetdb.pool.acquire.rejected"
	MetricAcquireWait     = "assetdb.pool.acquire.wait"
	MetricConnOpened      = "assetdb.pool.conn.opened"
	MetricConnClosed      = "assetdb.pool.conn.closed"
	MetricConnActive      = "assetdb.pool.conn.active"

	MetricQueryDuration = "assetdb.query.duration"
	MetricQueryError    = "assetdb.query.error"
	MetricQuerySlow     = "assetdb.query.slow"

	MetricRetryAttempt   = "assetdb.retry.attempt"
	MetricRetryExhausted = "assetdb.retry.exhausted"

	MetricLockedError    = "assetdb.error.locked"
	MetricMalformedError = "assetdb.error.malformed"

	MetricRecoveryAttempt = "assetdb.recovery.attempt"
	MetricRecoverySuccess = "assetdb.recovery.success"
	MetricRecoveryFailure = "assetdb.recovery.failure"

	MetricResetAttempt = "assetdb.reset.attempt"
	MetricResetSuccess = "assetdb.reset.success"
	MetricResetFailure = "assetdb.reset.failure"

	MetricTxBegin    = "assetdb.tx.begin"
	MetricTxCommit   = "assetdb.tx.commit"
	MetricTxRollback = "assetdb.tx.rollback"

	MetricWriteWait    = "assetdb.arbiter.wait"
	MetricWriteTimeout = "assetdb.arbiter.timeout"

	MetricBridgeTimeout  = "assetdb.bridge.timeout"
	MetricBridgeInflight = "assetdb.bridge.inflight"

	MetricAssetLockActive  = "assetdb.assetlock.active"
	MetricAssetLockEvicted = "assetdb.assetlock.evicted"
	MetricAssetLockPruned  = "assetdb.assetlock.pruned"

	MetricSelfHealColumn = "assetdb.selfheal.column"
	MetricSelfHealTable  = "assetdb.selfheal.table"

	MetricCheckpoint = "assetdb.maintenance.checkpoint"

	MetricStatusConnsActive     = "assetdb.status.conns.active"
	MetricStatusConnsIdle       = "assetdb.status.conns.idle"
	MetricStatusUnitsInflight   = "assetdb.status.units.inflight"
	MetricStatusTxnsActive      = "assetdb.status.txns.active"
	MetricStatusLocksTracked    = "assetdb.status.locks.tracked"
	MetricStatusResetting       = "assetdb.status.resetting"
	MetricStatusLockedRecent    = "assetdb.status.locked.recent"
	MetricStatusMalformedRecent = "assetdb.status.malformed.recent"
)
