package assetdb

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// bridgeKey marks contexts that descend from a bridge's worker context.
// The value is the owning bridge, so nested bridges stay distinguishable.
type bridgeKey struct{}

// Unit is one schedulable piece of store work
type Unit func(ctx context.Context) error

// Pending is a handle to a submitted unit. It resolves exactly once.
type Pending struct {
	done   chan struct{}
	once   sync.Once
	err    error
	cancel context.CancelFunc
}

func (p *Pending) resolve(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Wait blocks until the unit finishes or ctx is done. Cancelling ctx
// abandons the wait, not the unit.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done reports whether the unit has resolved, without blocking
func (p *Pending) Done() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Cancel asks the unit to stop. The unit still resolves on its own.
func (p *Pending) Cancel() {
	if p.cancel != nil {
		p.cancel()
	}
}

// EventLoopBridge reconciles synchronous callers with the store's
// asynchronous execution. It owns the root worker context every unit
// runs under; submitting goroutines block on the handle while the unit
// runs on its own goroutine derived from the root.
type EventLoopBridge struct {
	runTimeout time.Duration
	logger     Logger
	metrics    Metrics

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight int
	wg       sync.WaitGroup
}

// NewEventLoopBridge creates a bridge whose Run calls give up after
// runTimeout. A non-positive timeout uses the default.
func NewEventLoopBridge(runTimeout time.Duration, logger Logger, metrics Metrics) *EventLoopBridge {
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}

	b := &EventLoopBridge{
		runTimeout: runTimeout,
		logger:     logger,
		metrics:    metrics,
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.rootCtx = context.WithValue(ctx, bridgeKey{}, b)
	b.rootCancel = cancel
	return b
}

// Inside reports whether ctx descends from this bridge's worker context
func (b *EventLoopBridge) Inside(ctx context.Context) bool {
	other, _ := ctx.Value(bridgeKey{}).(*EventLoopBridge)
	return other == b
}

// Submit schedules unit under the worker context and returns immediately.
// After Shutdown the returned handle resolves with ErrBridgeClosed.
func (b *EventLoopBridge) Submit(unit Unit) *Pending {
	p := &Pending{done: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		p.resolve(ErrBridgeClosed)
		return p
	}
	b.wg.Add(1)
	b.inflight++
	b.metrics.Gauge(MetricBridgeInflight, float64(b.inflight))
	b.mu.Unlock()

	unitCtx, cancel := context.WithCancel(b.rootCtx)
	p.cancel = cancel

	go func() {
		defer b.unitDone()
		defer cancel()
		p.resolve(b.runUnit(unitCtx, unit))
	}()

	return p
}

// Run schedules unit and blocks until it finishes, the caller's ctx is
// done, or the run timeout elapses. On timeout the unit is cancelled
// best-effort and the bridge keeps serving subsequent work. Calling Run
// from inside the worker context fails immediately with the deadlock
// guard instead of blocking the worker on itself.
func (b *EventLoopBridge) Run(ctx context.Context, unit Unit) error {
	if b.Inside(ctx) {
		return WithContext(ErrDeadlockGuard, map[string]interface{}{
			"reason": "Run called from inside the worker context",
		})
	}

	p := b.Submit(unit)

	timer := time.NewTimer(b.runTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		p.Cancel()
		return ctx.Err()
	case <-timer.C:
		p.Cancel()
		b.metrics.Increment(MetricBridgeTimeout)
		b.logger.Warnw("unit exceeded run timeout", "timeout", b.runTimeout)
		return WithContext(ErrTimeout, map[string]interface{}{
			"timeout": b.runTimeout.String(),
		})
	}
}

// Shutdown refuses new work, drains in-flight units bounded by ctx, then
// cancels the worker context. A second call is a no-op.
func (b *EventLoopBridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		b.logger.Warnw("shutdown drain gave up with units in flight", "error", err)
	}

	b.rootCancel()
	return err
}

// Inflight returns the number of submitted units not yet resolved
func (b *EventLoopBridge) Inflight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inflight
}

func (b *EventLoopBridge) unitDone() {
	b.mu.Lock()
	b.inflight--
	b.metrics.Gauge(MetricBridgeInflight, float64(b.inflight))
	b.mu.Unlock()
	b.wg.Done()
}

// runUnit converts a panicking unit into an error so one bad statement
// cannot take the process down.
func (b *EventLoopBridge) runUnit(ctx context.Context, unit Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("unit panicked", "panic", r)
			err = fmt.Errorf("panic in store unit: %v", r)
		}
	}()
	return unit(ctx)
}
