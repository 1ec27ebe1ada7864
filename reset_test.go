package assetdb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newResetFixture(t *testing.T) (*HardResetController, *Pool, *Diagnostics, string) {
	t.Helper()
	cfg := DefaultConfig()
	path := filepath.Join(t.TempDir(), "reset.db")

	pool := NewPool(path, cfg, &NoOpLogger{}, &NoOpMetrics{})
	t.Cleanup(pool.Close)

	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := conn.ExecContext(ctx, "CREATE TABLE keep (id INTEGER PRIMARY KEY, v TEXT)"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}
	if _, err := conn.ExecContext(ctx, "INSERT INTO keep (v) VALUES ('old world')"); err != nil {
		t.Fatalf("INSERT failed: %v", err)
	}
	pool.Release(conn)

	diag := NewDiagnostics(0)
	hr := NewHardResetController(path, cfg, pool, diag, &NoOpLogger{}, NewInMemoryMetrics())
	return hr, pool, diag, path
}

func TestReset_WipesAndReinitializes(t *testing.T) {
	hr, pool, diag, path := newResetFixture(t)
	ctx := context.Background()

	marked := false
	rebuilt := false
	hr.SetHooks(
		func() { marked = true },
		func(ctx context.Context) error {
			rebuilt = true
			conn, err := openDirect(ctx, path, hr.cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			_, err = conn.ExecContext(ctx, "CREATE TABLE keep (id INTEGER PRIMARY KEY, v TEXT)")
			return err
		},
	)

	if err := hr.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if !marked {
		t.Error("Expected the mark-uninitialized hook to run")
	}
	if !rebuilt {
		t.Error("Expected the reinitialize hook to run")
	}
	if pool.Draining() {
		t.Error("Expected drain to be lifted after reset")
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after reset failed: %v", err)
	}
	defer pool.Release(conn)

	rows, err := conn.QueryContext(ctx, "SELECT COUNT(*) FROM keep")
	if err != nil {
		t.Fatalf("Query after reset failed: %v", err)
	}
	defer rows.Close()
	var n int
	if !rows.Next() {
		t.Fatal("Expected a count row")
	}
	if err := rows.Scan(&n); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected an empty table after reset, got %d rows", n)
	}

	snap := diag.Snapshot()
	if snap.ResetAttempts != 1 || snap.ResetSuccesses != 1 {
		t.Errorf("Expected 1 attempt and 1 success, got %+v", snap)
	}
}

func TestReset_RemovesSideFiles(t *testing.T) {
	hr, _, _, path := newResetFixture(t)
	ctx := context.Background()

	hr.SetHooks(nil, nil)
	if err := hr.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	for _, p := range []string{path + "-wal", path + "-shm", path + "-journal"} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("Expected %s to be gone, stat err = %v", p, err)
		}
	}
}

func TestReset_ReinitializeFailure(t *testing.T) {
	hr, pool, diag, _ := newResetFixture(t)
	ctx := context.Background()
	cause := errors.New("schema apply refused")

	hr.SetHooks(nil, func(ctx context.Context) error { return cause })

	err := hr.Reset(ctx)
	if !errors.Is(err, ErrResetFailed) {
		t.Fatalf("Expected ErrResetFailed, got %v", err)
	}

	var ec *ErrorWithContext
	if !errors.As(err, &ec) {
		t.Fatal("Expected context on the reset failure")
	}
	if ec.Context["stage"] != "reinitialize" {
		t.Errorf("Expected the reinitialize stage, got %v", ec.Context["stage"])
	}

	if pool.Draining() {
		t.Error("Expected drain to be lifted even after a failed reset")
	}
	if snap := diag.Snapshot(); snap.ResetFailures != 1 {
		t.Errorf("Expected 1 reset failure, got %+v", snap)
	}
}

func TestReset_ConcurrentHolderForceClosed(t *testing.T) {
	hr, pool, _, _ := newResetFixture(t)
	ctx := context.Background()

	held, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	hr.cfg.DrainTimeout = 50 * time.Millisecond // the holder never returns in time
	hr.SetHooks(nil, nil)
	if err := hr.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	if _, err := held.ExecContext(ctx, "SELECT 1"); err == nil {
		t.Error("Expected the held connection to be force-closed by the reset")
	}
	pool.Release(held)
}
