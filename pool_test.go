package assetdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestPool(t *testing.T, mutate func(*Config)) (*Pool, *InMemoryMetrics) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	metrics := NewInMemoryMetrics()
	pool := NewPool(filepath.Join(t.TempDir(), "pool.db"), cfg, &NoOpLogger{}, metrics)
	t.Cleanup(pool.Close)
	return pool, metrics
}

func TestPool_ReleaseRecycles(t *testing.T) {
	pool, _ := newTestPool(t, nil)
	ctx := context.Background()

	first, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	pool.Release(first)

	second, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer pool.Release(second)

	if first != second {
		t.Error("Expected the released connection to be recycled")
	}
}

func TestPool_DrainingFailsFast(t *testing.T) {
	pool, metrics := newTestPool(t, nil)
	ctx := context.Background()

	pool.BeginDrain()
	if _, err := pool.Acquire(ctx); !errors.Is(err, ErrPoolDraining) {
		t.Errorf("Expected ErrPoolDraining, got %v", err)
	}
	if got := metrics.Counter(MetricAcquireRejected); got != 1 {
		t.Errorf("Expected 1 rejected acquire, got %d", got)
	}

	pool.EndDrain()
	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after EndDrain failed: %v", err)
	}
	pool.Release(conn)
}

func TestPool_CapacityBlocksUntilRelease(t *testing.T) {
	pool, _ := newTestPool(t, func(cfg *Config) {
		cfg.MaxConnections = 1
	})
	ctx := context.Background()

	held, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	acquired := make(chan *Conn, 1)
	go func() {
		c, err := pool.Acquire(ctx)
		if err != nil {
			acquired <- nil
			return
		}
		acquired <- c
	}()

	select {
	case <-acquired:
		t.Fatal("Second acquire should block while the pool is at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Release(held)

	select {
	case c := <-acquired:
		if c == nil {
			t.Fatal("Blocked acquire failed after release")
		}
		pool.Release(c)
	case <-time.After(time.Second):
		t.Fatal("Blocked acquire never completed after release")
	}
}

func TestPool_AcquireHonorsContext(t *testing.T) {
	pool, metrics := newTestPool(t, func(cfg *Config) {
		cfg.MaxConnections = 1
	})
	ctx := context.Background()

	held, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer pool.Release(held)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(waitCtx); err == nil {
		t.Error("Expected acquire to fail when the context expires")
	}
	if got := metrics.Counter(MetricAcquireError); got != 1 {
		t.Errorf("Expected 1 acquire error, got %d", got)
	}
}

func TestPool_WaitIdle(t *testing.T) {
	pool, _ := newTestPool(t, nil)
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if pool.WaitIdle(30 * time.Millisecond) {
		t.Error("WaitIdle should report false while a connection is out")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		pool.Release(conn)
	}()

	if !pool.WaitIdle(time.Second) {
		t.Error("WaitIdle should report true once everything is returned")
	}
}

func TestPool_ForceCloseAll(t *testing.T) {
	pool, _ := newTestPool(t, func(cfg *Config) {
		cfg.MaxConnections = 1
	})
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	pool.ForceCloseAll()

	if _, err := conn.ExecContext(ctx, "SELECT 1"); err == nil {
		t.Error("Expected force-closed connection to be unusable")
	}

	// Release of a force-closed connection only returns the permit.
	pool.Release(conn)

	fresh, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after ForceCloseAll failed: %v", err)
	}
	pool.Release(fresh)
}

func TestPool_CloseRejectsAcquire(t *testing.T) {
	cfg := DefaultConfig()
	pool := NewPool(filepath.Join(t.TempDir(), "closed.db"), cfg, &NoOpLogger{}, &NoOpMetrics{})
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	pool.Release(conn)
	pool.Close()

	if _, err := pool.Acquire(ctx); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
}

func TestPool_Stats(t *testing.T) {
	pool, _ := newTestPool(t, func(cfg *Config) {
		cfg.MaxConnections = 4
	})
	ctx := context.Background()

	stats := pool.Stats()
	if stats.Active != 0 || stats.Idle != 0 || stats.Max != 4 {
		t.Errorf("Expected empty pool stats, got %+v", stats)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	stats = pool.Stats()
	if stats.Active != 1 {
		t.Errorf("Expected 1 active connection, got %d", stats.Active)
	}

	pool.Release(conn)
	stats = pool.Stats()
	if stats.Active != 0 || stats.Idle != 1 {
		t.Errorf("Expected 0 active and 1 idle, got %+v", stats)
	}
}
