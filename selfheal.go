package assetdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SchemaSelfHealer repairs schema drift in place. The known-columns
// cache holds the last shape introspected from the live database; when
// a statement later fails on a column or table that the cache says
// should exist, the healer restores it and lets the caller retry the
// statement exactly once. Repairs never recurse.
type SchemaSelfHealer struct {
	logger  Logger
	metrics Metrics
	gate    *cooldownGate

	mu    sync.RWMutex
	known map[string]map[string]string // table -> column -> declaration
}

// NewSchemaSelfHealer creates a healer whose repairs are throttled per
// target by cooldown. A non-positive cooldown uses the default.
func NewSchemaSelfHealer(cooldown time.Duration, logger Logger, metrics Metrics) *SchemaSelfHealer {
	if cooldown <= 0 {
		cooldown = DefaultRepairCooldown
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &SchemaSelfHealer{
		logger:  logger,
		metrics: metrics,
		gate:    newCooldownGate(cooldown),
		known:   make(map[string]map[string]string),
	}
}

// InitKnownColumns replaces the cache from live introspection. Called
// at store initialization and again after every successful schema
// apply, so the cache always reflects the last known-good shape.
func (h *SchemaSelfHealer) InitKnownColumns(ctx context.Context, conn *Conn) error {
	tables, err := listTables(ctx, conn)
	if err != nil {
		return err
	}

	known := make(map[string]map[string]string, len(tables))
	for _, table := range tables {
		cols, err := introspectColumns(ctx, conn, table)
		if err != nil {
			return err
		}
		known[table] = cols
	}

	h.mu.Lock()
	h.known = known
	h.mu.Unlock()

	h.logger.Debugw("known columns cached", "tables", len(tables))
	return nil
}

// KnownColumns returns a copy of the cached declarations for table
func (h *SchemaSelfHealer) KnownColumns(table string) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cols, ok := h.known[table]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(cols))
	for k, v := range cols {
		out[k] = v
	}
	return out
}

// MaybeRepair inspects a failed statement's classification and attempts
// at most one in-place repair, using applySchema to restore a missing
// table. It reports whether the caller should retry the statement.
func (h *SchemaSelfHealer) MaybeRepair(ctx context.Context, conn *Conn, class errorClass, cause error, applySchema func(context.Context, *Conn) error) bool {
	switch class {
	case classMissingColumn:
		return h.repairColumn(ctx, conn, cause)
	case classMissingTable:
		return h.repairTable(ctx, conn, cause, applySchema)
	default:
		return false
	}
}

func (h *SchemaSelfHealer) repairColumn(ctx context.Context, conn *Conn, cause error) bool {
	refTable, column := missingColumnRef(cause)
	if column == "" {
		return false
	}

	table, decl, ok := h.lookupColumn(ctx, conn, refTable, column)
	if !ok {
		return false
	}

	if !h.gate.Allow("column:" + table + "." + column) {
		h.logger.Debugw("column repair throttled", "table", table, "column", column)
		return false
	}

	stmt := "ALTER TABLE " + quoteIdent(table) + " ADD COLUMN " + quoteIdent(column)
	if decl != "" {
		stmt += " " + decl
	}
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			// Another session healed it first; the retry will succeed.
			return true
		}
		h.logger.Warnw("column repair failed",
			"table", table,
			"column", column,
			"error", err)
		return false
	}

	h.metrics.Increment(MetricSelfHealColumn)
	h.logger.Infow("added missing column", "table", table, "column", column)
	return true
}

func (h *SchemaSelfHealer) repairTable(ctx context.Context, conn *Conn, cause error, applySchema func(context.Context, *Conn) error) bool {
	table := missingTableName(cause)
	if table == "" || applySchema == nil {
		return false
	}

	if !h.gate.Allow("table:" + table) {
		h.logger.Debugw("table repair throttled", "table", table)
		return false
	}

	if err := applySchema(ctx, conn); err != nil {
		h.logger.Warnw("schema reapply failed", "table", table, "error", err)
		return false
	}
	if err := h.InitKnownColumns(ctx, conn); err != nil {
		h.logger.Warnw("introspection failed after table repair", "error", err)
	}

	h.metrics.Increment(MetricSelfHealTable)
	h.logger.Infow("reapplied schema for missing table", "table", table)
	return true
}

// lookupColumn finds the declaration for column, preferring refTable
// when the error message was qualified. On a miss the cache is
// refreshed once, since it may predate the last migration.
func (h *SchemaSelfHealer) lookupColumn(ctx context.Context, conn *Conn, refTable, column string) (string, string, bool) {
	h.mu.RLock()
	table, decl, ok := h.findColumnLocked(refTable, column)
	h.mu.RUnlock()
	if ok {
		return table, decl, true
	}

	if err := h.InitKnownColumns(ctx, conn); err != nil {
		return "", "", false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.findColumnLocked(refTable, column)
}

func (h *SchemaSelfHealer) findColumnLocked(refTable, column string) (string, string, bool) {
	if refTable != "" {
		decl, ok := h.known[refTable][column]
		return refTable, decl, ok
	}
	for table, cols := range h.known {
		if decl, ok := cols[column]; ok {
			return table, decl, true
		}
	}
	return "", "", false
}

// listTables returns the user tables of the connected database
func listTables(ctx context.Context, conn *Conn) ([]string, error) {
	rows, err := conn.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// introspectColumns reads a table's columns and rebuilds the
// declaration used to restore them: type plus default. NOT NULL and
// primary-key bits are dropped because ADD COLUMN cannot reproduce
// them on a populated table.
func introspectColumns(ctx context.Context, conn *Conn, table string) (map[string]string, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}

		decl := typ
		if dflt.Valid {
			if decl != "" {
				decl += " "
			}
			decl += "DEFAULT " + dflt.String
		}
		cols[name] = decl
	}
	return cols, rows.Err()
}
