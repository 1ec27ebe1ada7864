package assetdb

import (
	"context"
	"sync"
	"time"
)

// KeyMutex is a context-aware mutual exclusion for one asset key
type KeyMutex struct {
	ch chan struct{}
}

func newKeyMutex() *KeyMutex {
	return &KeyMutex{ch: make(chan struct{}, 1)}
}

// Lock acquires the mutex, abandoning the wait when ctx is done
func (m *KeyMutex) Lock(ctx context.Context) error {
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryLock acquires the mutex only if it is free
func (m *KeyMutex) TryLock() bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the mutex. Unlocking a free mutex panics, matching
// sync.Mutex.
func (m *KeyMutex) Unlock() {
	select {
	case <-m.ch:
	default:
		panic("assetdb: unlock of unlocked KeyMutex")
	}
}

// Held reports whether some goroutine currently holds the mutex
func (m *KeyMutex) Held() bool {
	return len(m.ch) == 1
}

type lockEntry struct {
	km       *KeyMutex
	lastUsed time.Time
}

// AssetLockRegistry hands out per-asset mutexes so writers touching the
// same asset serialize without blocking work on other assets. Entries
// expire on a TTL and the table is capped by LRU eviction; a held lock
// is never evicted, so eviction can never break mutual exclusion.
type AssetLockRegistry struct {
	capacity      int
	ttl           time.Duration
	pruneInterval time.Duration
	logger        Logger
	metrics       Metrics

	mu      sync.Mutex
	entries map[string]*lockEntry
	now     func() time.Time

	runMu    sync.Mutex
	running  bool
	stopChan chan struct{}
}

func NewAssetLockRegistry(cfg Config, logger Logger, metrics Metrics) *AssetLockRegistry {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	capacity := cfg.LockCapacity
	if capacity < 1 {
		capacity = DefaultLockCapacity
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	interval := cfg.LockPruneInterval
	if interval <= 0 {
		interval = DefaultLockPruneInterval
	}

	return &AssetLockRegistry{
		capacity:      capacity,
		ttl:           ttl,
		pruneInterval: interval,
		logger:        logger,
		metrics:       metrics,
		entries:       make(map[string]*lockEntry),
		now:           time.Now,
	}
}

// GetOrCreate returns the mutex for key, creating it on first use and
// refreshing its last-used time. The registry lock is held only for the
// map work; pruning piggybacks here so even a registry without the
// background sweep sheds stale entries.
func (r *AssetLockRegistry) GetOrCreate(key string) *KeyMutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e, ok := r.entries[key]
	if !ok {
		e = &lockEntry{km: newKeyMutex()}
		r.entries[key] = e
	}
	e.lastUsed = now

	r.pruneLocked(now)
	r.metrics.Gauge(MetricAssetLockActive, float64(len(r.entries)))
	return e.km
}

// pruneLocked drops unlocked entries past the TTL, then evicts the
// least recently used unlocked entries while over capacity. The entry
// just refreshed by GetOrCreate survives both passes.
func (r *AssetLockRegistry) pruneLocked(now time.Time) {
	pruned := 0
	for key, e := range r.entries {
		if e.km.Held() {
			continue
		}
		if now.Sub(e.lastUsed) > r.ttl {
			delete(r.entries, key)
			pruned++
		}
	}

	evicted := 0
	for len(r.entries) > r.capacity {
		var oldestKey string
		var oldest time.Time
		for key, e := range r.entries {
			if e.km.Held() {
				continue
			}
			if oldestKey == "" || e.lastUsed.Before(oldest) {
				oldestKey = key
				oldest = e.lastUsed
			}
		}
		if oldestKey == "" {
			break // everything left is held
		}
		delete(r.entries, oldestKey)
		evicted++
	}

	for i := 0; i < pruned; i++ {
		r.metrics.Increment(MetricAssetLockPruned)
	}
	for i := 0; i < evicted; i++ {
		r.metrics.Increment(MetricAssetLockEvicted)
	}
}

// Start launches the background sweep that prunes on a fixed interval.
// A running registry ignores further starts.
func (r *AssetLockRegistry) Start() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopChan = make(chan struct{})

	go r.sweepLoop(r.stopChan)
	r.logger.Debugw("asset lock sweep started", "interval", r.pruneInterval)
}

// Stop halts the background sweep
func (r *AssetLockRegistry) Stop() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	close(r.stopChan)
}

func (r *AssetLockRegistry) sweepLoop(stop chan struct{}) {
	ticker := time.NewTicker(r.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			r.pruneLocked(r.now())
			r.metrics.Gauge(MetricAssetLockActive, float64(len(r.entries)))
			r.mu.Unlock()
		}
	}
}

// Teardown stops the sweep and clears the table
func (r *AssetLockRegistry) Teardown() {
	r.Stop()
	r.mu.Lock()
	r.entries = make(map[string]*lockEntry)
	r.mu.Unlock()
	r.metrics.Gauge(MetricAssetLockActive, 0)
}

// Len returns the number of tracked keys
func (r *AssetLockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
