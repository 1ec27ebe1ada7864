package assetdb

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
)

// TxMode selects the BEGIN variant for a transaction
type TxMode string

const (
	TxDeferred  TxMode = "DEFERRED"
	TxImmediate TxMode = "IMMEDIATE"
	TxExclusive TxMode = "EXCLUSIVE"
)

// parseTxMode validates and normalizes a caller-supplied mode.
// Empty means DEFERRED.
func parseTxMode(mode TxMode) (TxMode, error) {
	switch TxMode(strings.ToUpper(strings.TrimSpace(string(mode)))) {
	case TxDeferred, "":
		return TxDeferred, nil
	case TxImmediate:
		return TxImmediate, nil
	case TxExclusive:
		return TxExclusive, nil
	default:
		return "", WithContext(ErrInvalidInput, map[string]interface{}{
			"field":  "mode",
			"value":  string(mode),
			"reason": "must be DEFERRED, IMMEDIATE, or EXCLUSIVE",
		})
	}
}

// tokenKey carries the live transaction token in a context
type tokenKey struct{}

// TxToken identifies one live transaction and pins its connection.
// Statements carrying the token serialize on its mutex, so within one
// transaction they run strictly in submission order.
type TxToken struct {
	id      string
	mode    TxMode
	conn    *Conn
	release func() // writer slot release when held

	mu   sync.Mutex
	done bool
}

// ID returns the token identity
func (t *TxToken) ID() string { return t.id }

// Mode returns the BEGIN variant the transaction was started with
func (t *TxToken) Mode() TxMode { return t.mode }

// Alive reports whether the token can still run statements
func (t *TxToken) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.done
}

// TokenFromContext returns the transaction token in ctx, if any
func TokenFromContext(ctx context.Context) (*TxToken, bool) {
	token, ok := ctx.Value(tokenKey{}).(*TxToken)
	return token, ok
}

// panicError carries a recovered panic out of a transaction body
type panicError struct {
	val   interface{}
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic in transaction: %v", e.val)
}

// TxCoordinator owns transaction lifecycle: acquisition ordering on
// begin, the token registry, and the marker set of tokens holding the
// writer slot. The marker set is what lets a statement inside a
// transaction skip the arbiter its own BEGIN already holds.
type TxCoordinator struct {
	pool    *Pool
	arbiter *WriteArbiter
	retry   *RetryPolicy
	logger  Logger
	metrics Metrics

	mu      sync.Mutex
	active  map[string]*TxToken
	holders map[string]struct{}
}

func NewTxCoordinator(pool *Pool, arbiter *WriteArbiter, retry *RetryPolicy, logger Logger, metrics Metrics) *TxCoordinator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &TxCoordinator{
		pool:    pool,
		arbiter: arbiter,
		retry:   retry,
		logger:  logger,
		metrics: metrics,
		active:  make(map[string]*TxToken),
		holders: make(map[string]struct{}),
	}
}

// Begin starts a transaction: writer slot first, then a pooled
// connection, then the mode-specific BEGIN under busy-retry. The token
// registers only after BEGIN succeeds; every failure path releases both
// the connection and the slot, so nothing dangles. The returned context
// carries the token and routes statements onto its connection.
func (tc *TxCoordinator) Begin(ctx context.Context, mode TxMode) (context.Context, *TxToken, error) {
	if token, ok := TokenFromContext(ctx); ok && token.Alive() {
		return ctx, nil, ErrNestedBegin
	}

	mode, err := parseTxMode(mode)
	if err != nil {
		return ctx, nil, err
	}

	release, err := tc.arbiter.Acquire(ctx)
	if err != nil {
		return ctx, nil, err
	}

	conn, err := tc.pool.Acquire(ctx)
	if err != nil {
		release()
		return ctx, nil, err
	}

	begin := "BEGIN " + string(mode)
	if err := tc.retry.Do(ctx, "begin", func() error {
		_, e := conn.ExecContext(ctx, begin)
		return e
	}); err != nil {
		_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		tc.pool.Release(conn)
		release()
		return ctx, nil, err
	}

	token := &TxToken{
		id:      NewID(),
		mode:    mode,
		conn:    conn,
		release: release,
	}
	tc.mu.Lock()
	tc.active[token.id] = token
	tc.holders[token.id] = struct{}{}
	tc.mu.Unlock()

	tc.metrics.Increment(MetricTxBegin)
	tc.logger.Debugw("transaction started",
		"token", token.id[:8],
		"mode", string(mode),
		"conn", conn.ID())
	return context.WithValue(ctx, tokenKey{}, token), token, nil
}

// Commit commits the token's transaction. The token and its resources
// are spent regardless of outcome; a failed COMMIT is rolled back
// best-effort and surfaces as ErrCommitFailed. COMMIT runs under a
// background context so completed work is not lost to a caller deadline
// that expired between the last statement and here.
func (tc *TxCoordinator) Commit(token *TxToken) error {
	if token == nil {
		return ErrTxNotActive
	}

	token.mu.Lock()
	if token.done {
		token.mu.Unlock()
		return ErrTxNotActive
	}
	token.done = true
	_, err := token.conn.ExecContext(context.Background(), "COMMIT")
	if err != nil {
		_, _ = token.conn.ExecContext(context.Background(), "ROLLBACK")
	}
	token.mu.Unlock()

	tc.finish(token)
	if err != nil {
		tc.metrics.Increment(MetricTxRollback)
		tc.logger.Warnw("commit failed", "token", token.id[:8], "error", err)
		return WithContext(ErrCommitFailed, map[string]interface{}{
			"cause": err.Error(),
		})
	}
	tc.metrics.Increment(MetricTxCommit)
	return nil
}

// Rollback abandons the token's transaction. Resources are released and
// the token unregistered even when the ROLLBACK itself fails, which
// happens routinely after a force-close.
func (tc *TxCoordinator) Rollback(token *TxToken) error {
	if token == nil {
		return ErrTxNotActive
	}

	token.mu.Lock()
	if token.done {
		token.mu.Unlock()
		return ErrTxNotActive
	}
	token.done = true
	_, err := token.conn.ExecContext(context.Background(), "ROLLBACK")
	token.mu.Unlock()

	tc.finish(token)
	tc.metrics.Increment(MetricTxRollback)
	if err != nil {
		tc.logger.Warnw("rollback failed", "token", token.id[:8], "error", err)
	}
	return err
}

// finish unregisters the token and returns its connection and, when
// marked as a holder, the writer slot
func (tc *TxCoordinator) finish(token *TxToken) {
	tc.mu.Lock()
	delete(tc.active, token.id)
	_, held := tc.holders[token.id]
	delete(tc.holders, token.id)
	tc.mu.Unlock()

	tc.pool.Release(token.conn)
	if held && token.release != nil {
		token.release()
	}
}

// StatementConn resolves the connection a statement runs on and the
// release to call when it is done. Inside a live transaction this pins
// the token's connection and never touches the arbiter the BEGIN
// already holds; otherwise it draws from the pool, claiming the writer
// slot first for write statements.
func (tc *TxCoordinator) StatementConn(ctx context.Context, sqlText string) (*Conn, func(), error) {
	if token, ok := TokenFromContext(ctx); ok {
		token.mu.Lock()
		if token.done {
			token.mu.Unlock()
			return nil, nil, ErrTxNotActive
		}
		return token.conn, func() { token.mu.Unlock() }, nil
	}

	var release func()
	if isWriteStatement(sqlText) {
		r, err := tc.arbiter.Acquire(ctx)
		if err != nil {
			return nil, nil, err
		}
		release = r
	}

	conn, err := tc.pool.Acquire(ctx)
	if err != nil {
		if release != nil {
			release()
		}
		return nil, nil, err
	}

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			tc.pool.Release(conn)
			if release != nil {
				release()
			}
		})
	}
	return conn, cleanup, nil
}

// ActiveTransactions returns the number of live tokens
func (tc *TxCoordinator) ActiveTransactions() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.active)
}

// WithTransaction is the sanctioned grouping: begin, run fn under the
// token's context, commit on nil error, roll back on error or panic.
// A recovered panic is rolled back first and then surfaced as an error
// carrying the original value and stack.
func (tc *TxCoordinator) WithTransaction(ctx context.Context, mode TxMode, fn func(ctx context.Context) error) (err error) {
	txCtx, token, err := tc.Begin(ctx, mode)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tc.Rollback(token)
			err = &panicError{val: r, stack: debug.Stack()}
		}
	}()

	if ferr := fn(txCtx); ferr != nil {
		_ = tc.Rollback(token)
		return ferr
	}
	return tc.Commit(token)
}
