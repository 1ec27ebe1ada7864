package assetdb

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool hands out tuned connections up to a fixed ceiling. The weighted
// semaphore admits waiters in FIFO order, so a burst of callers cannot
// starve the earliest one. Connections open lazily and are recycled
// through an idle queue on release.
//
// Invariant: live connections (idle + checked out) never exceed
// MaxConnections, because a connection is only opened while holding a
// permit and the idle queue is empty.
type Pool struct {
	path    string
	cfg     Config
	logger  Logger
	metrics Metrics

	sem      *semaphore.Weighted
	draining atomic.Bool

	mu         sync.Mutex
	idle       []*Conn
	checkedOut map[*Conn]struct{}
	closed     bool
}

// NewPool creates a connection pool for the store at path. Connections
// open lazily on first acquisition.
func NewPool(path string, cfg Config, logger Logger, metrics Metrics) *Pool {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &Pool{
		path:       path,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConnections)),
		checkedOut: make(map[*Conn]struct{}),
	}
}

// Acquire returns a tuned connection, waiting for a slot when all are
// checked out. It fails fast with ErrPoolDraining while a reset is in
// progress; the flag is checked again after the wait because a reset
// can begin while the caller sits in the queue.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if p.draining.Load() {
		p.metrics.Increment(MetricAcquireRejected)
		return nil, ErrPoolDraining
	}

	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.metrics.Increment(MetricAcquireError)
		return nil, err
	}
	p.metrics.Timing(MetricAcquireWait, time.Since(start))

	if p.draining.Load() {
		p.sem.Release(1)
		p.metrics.Increment(MetricAcquireRejected)
		return nil, ErrPoolDraining
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}
	var c *Conn
	if n := len(p.idle); n > 0 {
		c = p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.checkedOut[c] = struct{}{}
	}
	active := len(p.checkedOut)
	p.mu.Unlock()

	if c != nil {
		p.metrics.Increment(MetricAcquireSuccess)
		p.metrics.Gauge(MetricConnActive, float64(active))
		return c, nil
	}

	// Open outside the lock; the held permit keeps live <= max.
	openCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()
	c, err := openDirect(openCtx, p.path, p.cfg)
	if err != nil {
		p.sem.Release(1)
		p.metrics.Increment(MetricAcquireError)
		p.logger.Errorw("failed to open connection", "path", p.path, "error", err)
		return nil, err
	}

	p.mu.Lock()
	p.checkedOut[c] = struct{}{}
	active = len(p.checkedOut)
	p.mu.Unlock()

	p.metrics.Increment(MetricConnOpened)
	p.metrics.Increment(MetricAcquireSuccess)
	p.metrics.Gauge(MetricConnActive, float64(active))
	p.logger.Debugw("opened connection", "conn", c.ID())
	return c, nil
}

// Release returns conn to the pool, recycling it through the idle queue
// unless the pool is draining or closed. The permit is released in
// every path.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}
	defer p.sem.Release(1)

	p.mu.Lock()
	if _, ok := p.checkedOut[c]; !ok {
		// Force-closed while out; nothing to recycle.
		p.mu.Unlock()
		return
	}
	delete(p.checkedOut, c)

	if p.closed || p.draining.Load() || len(p.idle) >= p.cfg.MaxConnections {
		active := len(p.checkedOut)
		p.mu.Unlock()
		c.Close()
		p.metrics.Increment(MetricConnClosed)
		p.metrics.Gauge(MetricConnActive, float64(active))
		return
	}

	p.idle = append(p.idle, c)
	active := len(p.checkedOut)
	p.mu.Unlock()
	p.metrics.Gauge(MetricConnActive, float64(active))
}

// BeginDrain makes new acquisitions fail fast with ErrPoolDraining
func (p *Pool) BeginDrain() { p.draining.Store(true) }

// EndDrain lifts the drain flag
func (p *Pool) EndDrain() { p.draining.Store(false) }

// Draining reports whether a drain is in progress
func (p *Pool) Draining() bool { return p.draining.Load() }

// WaitIdle waits up to timeout for every connection to be returned.
// It reports false when connections were still checked out at expiry.
func (p *Pool) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		p.mu.Lock()
		n := len(p.checkedOut)
		p.mu.Unlock()
		if n == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ForceCloseAll closes every connection the pool knows about, idle and
// checked out alike. Holders of checked-out connections see
// sql.ErrConnDone on next use; their permits come back through their
// eventual Release.
func (p *Pool) ForceCloseAll() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	out := make([]*Conn, 0, len(p.checkedOut))
	for c := range p.checkedOut {
		out = append(out, c)
	}
	p.checkedOut = make(map[*Conn]struct{})
	p.mu.Unlock()

	for _, c := range idle {
		c.Close()
		p.metrics.Increment(MetricConnClosed)
	}
	for _, c := range out {
		c.Close()
		p.metrics.Increment(MetricConnClosed)
		p.logger.Warnw("force-closed checked-out connection", "conn", c.ID())
	}
	p.metrics.Gauge(MetricConnActive, 0)
}

// Close drains and closes everything. The pool cannot be reused.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.ForceCloseAll()
}

// PoolStats is a point-in-time pool census
type PoolStats struct {
	Active int
	Idle   int
	Max    int
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Active: len(p.checkedOut),
		Idle:   len(p.idle),
		Max:    p.cfg.MaxConnections,
	}
}
