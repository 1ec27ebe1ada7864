package assetdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Statement operations as routed through the pipeline
const (
	opFetchAll = "fetch_all"
	opFetchOne = "fetch_one"
	opExecute  = "execute"
	opScript   = "script"
	opMany     = "execute_many"
)

// Manager is the store façade: it wires the bridge, pool, arbiter,
// transaction coordinator, self-healer, recovery, reset, and asset
// locks behind a uniform Result API that never panics and never leaks
// raw driver errors.
type Manager struct {
	path string
	cfg  Config

	logger  Logger
	metrics Metrics

	diag     *Diagnostics
	bridge   *EventLoopBridge
	pool     *Pool
	arbiter  *WriteArbiter
	retry    *RetryPolicy
	txns     *TxCoordinator
	healer   *SchemaSelfHealer
	recovery *RecoveryManager
	resetter *HardResetController
	locks    *AssetLockRegistry

	initMu      sync.Mutex
	initialized atomic.Bool
	closed      atomic.Bool

	cpMu      sync.Mutex
	cpRunning bool
	cpStop    chan struct{}
}

// NewManager creates a store at path with default configuration and no
// observability. The database file is created lazily on first use.
func NewManager(path string) (*Manager, error) {
	return NewManagerWithObservability(path, nil, nil)
}

// NewManagerWithLogger creates a store that logs through logger
func NewManagerWithLogger(path string, logger Logger) (*Manager, error) {
	return NewManagerWithObservability(path, logger, nil)
}

// NewManagerWithObservability creates a store with logging and metrics.
// Configuration is resolved from defaults, the JSON override file, and
// environment variables.
func NewManagerWithObservability(path string, logger Logger, metrics Metrics) (*Manager, error) {
	return NewManagerWithConfig(path, LoadConfig(path, logger), logger, metrics)
}

// NewManagerWithConfig creates a store with an explicit configuration
func NewManagerWithConfig(path string, cfg Config, logger Logger, metrics Metrics) (*Manager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, WithContext(ErrInvalidInput, map[string]interface{}{
			"field":  "path",
			"reason": "database path is required",
		})
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		path:    path,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}

	m.diag = NewDiagnostics(cfg.StaleWindow)
	m.bridge = NewEventLoopBridge(cfg.RunTimeout, logger, metrics)
	m.pool = NewPool(path, cfg, logger, metrics)
	m.arbiter = NewWriteArbiter(metrics)
	m.retry = NewRetryPolicy(cfg.Retry, m.diag, logger, metrics)
	m.txns = NewTxCoordinator(m.pool, m.arbiter, m.retry, logger, metrics)
	m.healer = NewSchemaSelfHealer(cfg.RepairCooldown, logger, metrics)
	m.recovery = NewRecoveryManager(cfg, m.diag, logger, metrics)
	m.resetter = NewHardResetController(path, cfg, m.pool, m.diag, logger, metrics)
	m.locks = NewAssetLockRegistry(cfg, logger, metrics)

	m.resetter.SetHooks(
		func() { m.initialized.Store(false) },
		func(ctx context.Context) error {
			m.initMu.Lock()
			defer m.initMu.Unlock()
			return m.initializeLocked(ctx)
		},
	)
	m.recovery.SetResetFn(m.resetter.Reset)

	m.locks.Start()
	return m, nil
}

// Path returns the database file location
func (m *Manager) Path() string { return m.path }

// Initialize builds the store eagerly instead of on first use
func (m *Manager) Initialize(ctx context.Context) error {
	return m.ensureInitialized(ctx)
}

func (m *Manager) ensureInitialized(ctx context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if m.initialized.Load() {
		return nil
	}

	m.initMu.Lock()
	if m.initialized.Load() {
		m.initMu.Unlock()
		return nil
	}
	err := m.initializeLocked(ctx)
	m.initMu.Unlock()
	if err == nil {
		return nil
	}

	// A corrupt file discovered at first touch goes straight to the
	// recovery ladder; the reset path re-runs initialization itself.
	if classifySQLiteError(err) == classMalformed {
		m.diag.RecordMalformed(err.Error())
		m.logger.Errorw("initialization hit corruption", "error", err)
		m.recovery.Escalate(ctx)
		if m.initialized.Load() {
			return nil
		}
	}
	return err
}

// initializeLocked builds the store through the non-pooled direct path:
// parent directory, schema, known-columns cache. Runs at first use and
// again at the tail of a hard reset. Callers hold initMu.
func (m *Manager) initializeLocked(ctx context.Context) error {
	if dir := filepath.Dir(m.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			return err
		}
	}

	conn, err := openDirect(ctx, m.path, m.cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := EnsureSchema(ctx, conn); err != nil {
		return err
	}
	if err := m.healer.InitKnownColumns(ctx, conn); err != nil {
		return err
	}

	m.initialized.Store(true)
	m.logger.Infow("store initialized", "path", m.path)
	return nil
}

// Query runs a read statement and returns rows as a slice of
// column-name keyed maps.
func (m *Manager) Query(ctx context.Context, sqlText string, args ...interface{}) Result {
	return m.runStatement(ctx, opFetchAll, sqlText, args)
}

// QueryOne runs a read statement and returns the first row, or Ok(nil)
// when there is no row.
func (m *Manager) QueryOne(ctx context.Context, sqlText string, args ...interface{}) Result {
	return m.runStatement(ctx, opFetchOne, sqlText, args)
}

// Execute runs a write statement and returns rows affected plus the
// last insert id.
func (m *Manager) Execute(ctx context.Context, sqlText string, args ...interface{}) Result {
	return m.runStatement(ctx, opExecute, sqlText, args)
}

// ExecuteMany runs one write statement against every argument batch,
// inside a single transaction with one prepared statement.
func (m *Manager) ExecuteMany(ctx context.Context, sqlText string, batches [][]interface{}) Result {
	if err := validateStatement(sqlText); err != nil {
		return resultFromError(err)
	}
	if len(batches) == 0 {
		return OkMeta(nil, ResultMeta{})
	}

	var total int64
	res := m.WithTransaction(ctx, TxImmediate, func(txCtx context.Context) error {
		token, ok := TokenFromContext(txCtx)
		if !ok {
			return ErrTxNotActive
		}
		stmt, err := token.conn.PrepareContext(txCtx, sqlText)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, batch := range batches {
			sqlRes, err := stmt.ExecContext(txCtx, batch...)
			if err != nil {
				return err
			}
			if n, nerr := sqlRes.RowsAffected(); nerr == nil {
				total += n
			}
		}
		return nil
	})
	if !res.OK {
		return res
	}
	return OkMeta(nil, ResultMeta{RowsAffected: total})
}

// ExecuteScript runs a multi-statement script inside one transaction
func (m *Manager) ExecuteScript(ctx context.Context, script string) Result {
	if strings.TrimSpace(script) == "" {
		return resultFromError(WithContext(ErrInvalidInput, map[string]interface{}{
			"reason": "empty script",
		}))
	}
	return m.WithTransaction(ctx, TxImmediate, func(txCtx context.Context) error {
		token, ok := TokenFromContext(txCtx)
		if !ok {
			return ErrTxNotActive
		}
		_, err := token.conn.ExecContext(txCtx, script)
		return err
	})
}

// WithTransaction groups fn's statements into one transaction. fn must
// thread the context it receives into every store call it makes; on nil
// error the transaction commits, otherwise it rolls back. A panic in fn
// rolls back and surfaces as a DB_ERROR Result.
func (m *Manager) WithTransaction(ctx context.Context, mode TxMode, fn func(ctx context.Context) error) Result {
	if err := m.ensureInitialized(ctx); err != nil {
		return resultFromError(err)
	}
	if token, ok := TokenFromContext(ctx); ok && token.Alive() {
		return resultFromError(ErrNestedBegin)
	}

	if m.bridge.Inside(ctx) {
		return resultFromError(m.txns.WithTransaction(ctx, mode, fn))
	}

	var res Result
	unit := func(uctx context.Context) error {
		res = resultFromError(m.txns.WithTransaction(uctx, mode, fn))
		return nil
	}
	if err := m.bridge.Run(ctx, unit); err != nil {
		return resultFromError(err)
	}
	return res
}

// runStatement routes a statement: straight to the token's connection
// when already inside the worker with a live transaction, through the
// bridge otherwise.
func (m *Manager) runStatement(ctx context.Context, op, sqlText string, args []interface{}) Result {
	if err := validateStatement(sqlText); err != nil {
		return resultFromError(err)
	}
	if err := m.ensureInitialized(ctx); err != nil {
		return resultFromError(err)
	}

	if token, ok := TokenFromContext(ctx); ok && token.Alive() && m.bridge.Inside(ctx) {
		return m.executeUnit(ctx, op, sqlText, args)
	}

	var res Result
	unit := func(uctx context.Context) error {
		res = m.executeUnit(uctx, op, sqlText, args)
		return nil
	}
	if err := m.bridge.Run(ctx, unit); err != nil {
		return resultFromError(err)
	}
	return res
}

// executeUnit is the statement pipeline: resolve a connection, run the
// statement under busy-retry, and on failure give the self-healer or
// online recovery one shot at repairing before a single retry. Repairs
// never recurse.
func (m *Manager) executeUnit(ctx context.Context, op, sqlText string, args []interface{}) Result {
	conn, cleanup, err := m.txns.StatementConn(ctx, sqlText)
	if err != nil {
		return resultFromError(err)
	}
	defer cleanup()

	res, err := m.attempt(ctx, conn, op, sqlText, args)
	if err == nil {
		return res
	}

	switch class := classifySQLiteError(err); class {
	case classMissingColumn, classMissingTable:
		if m.healer.MaybeRepair(ctx, conn, class, err, EnsureSchema) {
			res, rerr := m.attempt(ctx, conn, op, sqlText, args)
			if rerr == nil {
				return res
			}
			err = rerr
		}
	case classMalformed:
		retryStmt, escalate := m.recovery.HandleMalformed(ctx, conn, err)
		if retryStmt {
			res, rerr := m.attempt(ctx, conn, op, sqlText, args)
			if rerr == nil {
				return res
			}
			err = rerr
		} else if escalate {
			cleanup()
			m.recovery.Escalate(ctx)
		}
	}

	m.metrics.Increment(MetricQueryError,
		"operation", op,
		"kind", classifySQLiteError(err).String())
	return resultFromError(err)
}

// attempt runs one statement under the retry policy and the configured
// per-statement deadline, recording timing.
func (m *Manager) attempt(ctx context.Context, conn *Conn, op, sqlText string, args []interface{}) (Result, error) {
	runCtx := ctx
	if m.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, m.cfg.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	var res Result
	err := m.retry.Do(runCtx, op, func() error {
		r, e := m.dispatch(runCtx, conn, op, sqlText, args)
		if e != nil {
			return e
		}
		res = r
		return nil
	})

	elapsed := time.Since(start)
	m.metrics.Timing(MetricQueryDuration, elapsed, "operation", op)
	if m.cfg.SlowQueryThreshold > 0 && elapsed >= m.cfg.SlowQueryThreshold {
		m.metrics.Increment(MetricQuerySlow)
		m.logger.Warnw("slow statement",
			"operation", op,
			"duration", elapsed,
			"sql", compactSQL(sqlText))
	}

	if err != nil {
		// The driver words an interrupted statement its own way; what
		// matters is that the deadline expired.
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = WithContext(ErrTimeout, map[string]interface{}{
				"operation": op,
				"cause":     err.Error(),
			})
		}
		return Result{}, err
	}
	return res, nil
}

func (m *Manager) dispatch(ctx context.Context, conn *Conn, op, sqlText string, args []interface{}) (Result, error) {
	switch op {
	case opFetchAll:
		rows, err := queryRows(ctx, conn, sqlText, args)
		if err != nil {
			return Result{}, err
		}
		return Ok(rows), nil

	case opFetchOne:
		rows, err := queryRows(ctx, conn, sqlText, args)
		if err != nil {
			return Result{}, err
		}
		if len(rows) == 0 {
			return Ok(nil), nil
		}
		return Ok(rows[0]), nil

	case opExecute:
		sqlRes, err := conn.ExecContext(ctx, sqlText, args...)
		if err != nil {
			return Result{}, err
		}
		meta := ResultMeta{}
		if n, nerr := sqlRes.RowsAffected(); nerr == nil {
			meta.RowsAffected = n
		}
		if id, ierr := sqlRes.LastInsertId(); ierr == nil {
			meta.LastInsertID = id
		}
		return OkMeta(nil, meta), nil

	default:
		return Result{}, fmt.Errorf("unknown operation %q", op)
	}
}

// queryRows materializes a result set as column-name keyed maps,
// converting []byte cells to string so JSON encoding stays readable
func queryRows(ctx context.Context, conn *Conn, sqlText string, args []interface{}) ([]map[string]interface{}, error) {
	rows, err := conn.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]interface{}, 0)
	vals := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// validateStatement rejects what no statement path accepts: empty text
// and bare transaction control, which must go through WithTransaction
// so the coordinator can pair resources with tokens.
func validateStatement(sqlText string) error {
	if strings.TrimSpace(sqlText) == "" {
		return WithContext(ErrInvalidInput, map[string]interface{}{
			"reason": "empty statement",
		})
	}
	switch leadingKeyword(sqlText) {
	case "BEGIN", "COMMIT", "ROLLBACK", "SAVEPOINT", "RELEASE":
		return WithContext(ErrNestedBegin, map[string]interface{}{
			"reason": "transaction control must go through WithTransaction",
		})
	}
	return nil
}

// compactSQL renders a statement for logs: collapsed whitespace,
// capped length
func compactSQL(sqlText string) string {
	s := strings.Join(strings.Fields(sqlText), " ")
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}

// AssetLock returns the per-asset mutex for key
func (m *Manager) AssetLock(key string) *KeyMutex {
	return m.locks.GetOrCreate(key)
}

// Status reports store occupancy
func (m *Manager) Status() StatusSnapshot {
	ps := m.pool.Stats()
	return StatusSnapshot{
		Path:        m.path,
		Initialized: m.initialized.Load(),
		Resetting:   m.pool.Draining(),

		ActiveConns:   ps.Active,
		IdleConns:     ps.Idle,
		MaxConns:      ps.Max,
		InflightUnits: m.bridge.Inflight(),
		ActiveTxns:    m.txns.ActiveTransactions(),
		TrackedLocks:  m.locks.Len(),

		ConnectTimeout: m.cfg.ConnectTimeout,
		QueryTimeout:   m.cfg.QueryTimeout,
		RunTimeout:     m.cfg.RunTimeout,
	}
}

// DiagnosticsSnapshot reports recorded health events
func (m *Manager) DiagnosticsSnapshot() DiagnosticsSnapshot {
	return m.diag.Snapshot()
}

// Reset destroys and recreates the store. Use when corruption outruns
// online recovery.
func (m *Manager) Reset(ctx context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	return m.resetter.Reset(ctx)
}

// Close shuts the store down: background work stops, in-flight units
// drain bounded by ctx, every connection closes. Safe to call twice.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.locks.Teardown()
	m.StopAutoCheckpoint()
	err := m.bridge.Shutdown(ctx)
	m.pool.Close()
	m.logger.Infow("store closed", "path", m.path)
	return err
}
