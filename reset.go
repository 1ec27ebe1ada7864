package assetdb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// HardResetController destroys and recreates the store in place while
// the process keeps running. It owns the only code path allowed to
// delete store files.
type HardResetController struct {
	path    string
	cfg     Config
	pool    *Pool
	diag    *Diagnostics
	logger  Logger
	metrics Metrics

	mu sync.Mutex // one reset at a time

	markUninitialized func()
	reinitialize      func(ctx context.Context) error
}

func NewHardResetController(path string, cfg Config, pool *Pool, diag *Diagnostics, logger Logger, metrics Metrics) *HardResetController {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &HardResetController{
		path:    path,
		cfg:     cfg,
		pool:    pool,
		diag:    diag,
		logger:  logger,
		metrics: metrics,
	}
}

// SetHooks injects the owner's callbacks around the file swap:
// markUninitialized runs before the files go away, reinitialize
// rebuilds the store afterwards through the non-pooled direct path.
func (hr *HardResetController) SetHooks(markUninitialized func(), reinitialize func(ctx context.Context) error) {
	hr.markUninitialized = markUninitialized
	hr.reinitialize = reinitialize
}

// Reset runs the destructive sequence: drain, checkpoint, force-close,
// delete, reinitialize, reapply schema. The drain flag is set for the
// whole operation so new acquisitions fail fast, and it is lifted on
// every exit path; the flag is false after Reset returns regardless of
// outcome.
func (hr *HardResetController) Reset(ctx context.Context) error {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	hr.metrics.Increment(MetricResetAttempt)
	hr.logger.Warnw("hard reset starting", "path", hr.path)

	hr.pool.BeginDrain()
	if hr.markUninitialized != nil {
		hr.markUninitialized()
	}

	// Flush the WAL while connections can still touch the file.
	hr.bestEffortCheckpoint(ctx)

	if !hr.pool.WaitIdle(hr.cfg.DrainTimeout) {
		hr.logger.Warnw("connections still busy after drain wait, force-closing")
	}
	hr.pool.ForceCloseAll()

	if err := hr.removeStoreFiles(); err != nil {
		return hr.failReset("remove", err)
	}

	if hr.reinitialize != nil {
		if err := hr.reinitialize(ctx); err != nil {
			return hr.failReset("reinitialize", err)
		}
	}

	hr.pool.EndDrain()
	hr.diag.RecordReset(true)
	hr.metrics.Increment(MetricResetSuccess)
	hr.logger.Infow("hard reset completed", "path", hr.path)
	return nil
}

func (hr *HardResetController) failReset(stage string, cause error) error {
	hr.pool.EndDrain()
	hr.diag.RecordReset(false)
	hr.metrics.Increment(MetricResetFailure)
	hr.logger.Errorw("hard reset failed", "stage", stage, "error", cause)
	return WithContext(ErrResetFailed, map[string]interface{}{
		"stage": stage,
		"path":  hr.path,
		"cause": cause.Error(),
	})
}

func (hr *HardResetController) bestEffortCheckpoint(ctx context.Context) {
	cpCtx, cancel := context.WithTimeout(ctx, hr.cfg.DrainTimeout)
	defer cancel()

	conn, err := openDirect(cpCtx, hr.path, hr.cfg)
	if err != nil {
		hr.logger.Debugw("checkpoint before reset skipped", "error", err)
		return
	}
	defer conn.Close()

	if _, err := conn.ExecContext(cpCtx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		hr.logger.Debugw("checkpoint before reset failed", "error", err)
		return
	}
	hr.metrics.Increment(MetricCheckpoint)
}

// removeStoreFiles deletes the database and its side files. The OS can
// hold handles briefly after a force-close, so each file gets bounded
// retries; a file that survives them is renamed aside and queued for
// deferred deletion rather than failing the reset.
func (hr *HardResetController) removeStoreFiles() error {
	paths := []string{
		hr.path,
		hr.path + "-wal",
		hr.path + "-shm",
		hr.path + "-journal",
	}

	for _, p := range paths {
		if err := hr.removeWithRetry(p); err == nil {
			continue
		}

		aside := fmt.Sprintf("%s.stale-%s", p, NewID()[:8])
		if rerr := os.Rename(p, aside); rerr != nil {
			return fmt.Errorf("remove %s: still locked and rename failed: %v", p, rerr)
		}

		scheduled, derr := scheduleDeferredDelete(aside)
		if derr != nil || !scheduled {
			hr.logger.Warnw("stale store file left behind", "path", aside, "error", derr)
		} else {
			hr.logger.Infow("stale store file queued for deferred deletion", "path", aside)
		}
	}
	return nil
}

func (hr *HardResetController) removeWithRetry(path string) error {
	var err error
	for attempt := 0; attempt <= hr.cfg.DeleteRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(hr.cfg.DeleteBackoff)
		}
		err = os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
	}
	return err
}
