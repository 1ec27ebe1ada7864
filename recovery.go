package assetdb

import (
	"context"
	"strings"
)

// RecoveryManager handles corruption: online recovery in place first,
// escalation to a hard reset when that fails. Both stages sit behind
// their own cooldown so a corrupt store cannot trigger a repair storm.
// Nothing here raises to callers; the statement that tripped recovery
// still surfaces its own generic failure.
type RecoveryManager struct {
	cfg     Config
	diag    *Diagnostics
	logger  Logger
	metrics Metrics

	recoverGate *cooldownGate
	resetGate   *cooldownGate

	// resetFn is injected by the manager before serving
	resetFn func(ctx context.Context) error
}

func NewRecoveryManager(cfg Config, diag *Diagnostics, logger Logger, metrics Metrics) *RecoveryManager {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &RecoveryManager{
		cfg:         cfg,
		diag:        diag,
		logger:      logger,
		metrics:     metrics,
		recoverGate: newCooldownGate(cfg.RecoveryCooldown),
		resetGate:   newCooldownGate(cfg.ResetCooldown),
	}
}

// SetResetFn injects the hard reset escalation target
func (rm *RecoveryManager) SetResetFn(fn func(ctx context.Context) error) {
	rm.resetFn = fn
}

// HandleMalformed runs the corruption playbook for a statement that
// failed with the malformed class. It reports whether the caller should
// retry the statement once, and whether it should escalate to a hard
// reset after releasing its connection.
func (rm *RecoveryManager) HandleMalformed(ctx context.Context, conn *Conn, cause error) (retry bool, escalate bool) {
	rm.diag.RecordMalformed(cause.Error())
	rm.metrics.Increment(MetricMalformedError)
	rm.logger.Errorw("database corruption detected", "error", cause)

	if !rm.recoverGate.Allow("recovery") {
		rm.logger.Warnw("online recovery throttled",
			"retry_in", rm.recoverGate.Remaining("recovery"))
		return false, true
	}

	ok := rm.tryOnlineRecovery(ctx, conn)
	rm.diag.RecordRecovery(ok)
	if ok {
		rm.metrics.Increment(MetricRecoverySuccess)
		rm.logger.Infow("online recovery succeeded")
		return true, false
	}

	rm.metrics.Increment(MetricRecoveryFailure)
	rm.logger.Warnw("online recovery failed")
	return false, true
}

// tryOnlineRecovery attempts in-place repair on the live file:
// checkpoint the WAL into the main file, verify integrity, rebuild the
// search index. A missing search table is not a failure; a checkpoint
// blocked by another connection's lock is, because nothing was repaired.
func (rm *RecoveryManager) tryOnlineRecovery(ctx context.Context, conn *Conn) bool {
	rm.metrics.Increment(MetricRecoveryAttempt)

	if _, err := conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		rm.logger.Warnw("wal checkpoint failed during recovery", "error", err)
		if classifySQLiteError(err) == classLocked {
			return false
		}
		// Not conclusive on its own; the integrity check decides.
	}

	if !rm.integrityOK(ctx, conn) {
		return false
	}

	rebuild := "INSERT INTO " + FTSTableName + "(" + FTSTableName + ") VALUES('rebuild')"
	if _, err := conn.ExecContext(ctx, rebuild); err != nil {
		if classifySQLiteError(err) == classMissingTable {
			rm.logger.Debugw("search index absent, skipping rebuild")
		} else {
			rm.logger.Warnw("search index rebuild failed", "error", err)
			return false
		}
	}
	return true
}

func (rm *RecoveryManager) integrityOK(ctx context.Context, conn *Conn) bool {
	rows, err := conn.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		rm.logger.Warnw("integrity check failed to run", "error", err)
		return false
	}
	defer rows.Close()

	var first string
	if rows.Next() {
		if err := rows.Scan(&first); err != nil {
			return false
		}
	}
	if rows.Err() != nil {
		return false
	}
	if !strings.EqualFold(first, "ok") {
		rm.logger.Errorw("integrity check reported damage", "report", first)
		return false
	}
	return true
}

// Escalate triggers the hard reset when enabled and out of cooldown.
// Callers must release their connection first; the reset drains and
// force-closes the pool.
func (rm *RecoveryManager) Escalate(ctx context.Context) {
	if !rm.cfg.AutoReset || rm.resetFn == nil {
		return
	}
	if !rm.resetGate.Allow("reset") {
		rm.logger.Warnw("auto reset throttled",
			"retry_in", rm.resetGate.Remaining("reset"))
		return
	}

	rm.logger.Warnw("escalating to hard reset")
	if err := rm.resetFn(ctx); err != nil {
		rm.logger.Errorw("auto reset failed", "error", err)
		return
	}
	rm.logger.Infow("auto reset completed")
}
