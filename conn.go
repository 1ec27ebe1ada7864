package assetdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// driverName is the database/sql registration of the pure-Go engine
const driverName = "sqlite"

// Conn is one store connection: a dedicated handle pinned to a single
// session so pragmas and transaction state stick to it. The handle is
// capped at one underlying connection, which makes Close and the reset
// path's force-close deterministic.
type Conn struct {
	id     string
	db     *sql.DB
	sess   *sql.Conn
	opened time.Time
}

// openDirect opens a connection outside the pool. New pooled
// connections, the probe during initialization, and the reset path all
// come through here so every session is tuned the same way.
func openDirect(ctx context.Context, path string, cfg Config) (*Conn, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	sess, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	c := &Conn{
		id:     NewID()[:8],
		db:     db,
		sess:   sess,
		opened: time.Now(),
	}
	if err := c.applyPragmas(ctx, cfg); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// applyPragmas tunes the session. busy_timeout goes first so the
// remaining pragmas themselves survive a locked database.
func (c *Conn) applyPragmas(ctx context.Context, cfg Config) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.ConnectTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cfg.CacheSizeKB),
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := c.sess.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// ID returns the short connection identity used in logs and diagnostics
func (c *Conn) ID() string { return c.id }

func (c *Conn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.sess.ExecContext(ctx, query, args...)
}

func (c *Conn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.sess.QueryContext(ctx, query, args...)
}

func (c *Conn) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return c.sess.PrepareContext(ctx, query)
}

// Close releases the session and its handle. After Close every use of
// the connection fails with sql.ErrConnDone.
func (c *Conn) Close() error {
	var first error
	if c.sess != nil {
		if err := c.sess.Close(); err != nil && first == nil {
			first = err
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
