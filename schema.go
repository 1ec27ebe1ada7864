package assetdb

import (
	"context"
	"fmt"
)

const (
	// SchemaVersion stamps PRAGMA user_version after a successful apply
	SchemaVersion = 1

	// FTSTableName is the full-text shadow table kept in sync with
	// assets by triggers
	FTSTableName = "assets_fts"
)

// schemaStatements builds the store in dependency order. Every
// statement is idempotent, so the same script serves first boot, the
// missing-table self-heal, and the tail end of a hard reset.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS assets (
		id         TEXT PRIMARY KEY,
		path       TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		ext        TEXT NOT NULL DEFAULT '',
		kind       TEXT NOT NULL DEFAULT 'other',
		size       INTEGER NOT NULL DEFAULT 0,
		mtime      INTEGER NOT NULL DEFAULT 0,
		hash       TEXT NOT NULL DEFAULT '',
		metadata   TEXT NOT NULL DEFAULT '{}',
		rating     INTEGER NOT NULL DEFAULT 0,
		notes      TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL DEFAULT (unixepoch()),
		updated_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,

	`CREATE INDEX IF NOT EXISTS idx_assets_kind ON assets(kind)`,
	`CREATE INDEX IF NOT EXISTS idx_assets_mtime ON assets(mtime)`,
	`CREATE INDEX IF NOT EXISTS idx_assets_hash ON assets(hash)`,

	`CREATE TABLE IF NOT EXISTS tags (
		id   INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	)`,

	`CREATE TABLE IF NOT EXISTS asset_tags (
		asset_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		tag_id   INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		PRIMARY KEY (asset_id, tag_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_asset_tags_tag ON asset_tags(tag_id)`,

	`CREATE VIRTUAL TABLE IF NOT EXISTS assets_fts USING fts5(
		name,
		path,
		notes,
		content='assets'
	)`,

	`CREATE TRIGGER IF NOT EXISTS assets_fts_ai AFTER INSERT ON assets BEGIN
		INSERT INTO assets_fts(rowid, name, path, notes)
		VALUES (new.rowid, new.name, new.path, new.notes);
	END`,

	`CREATE TRIGGER IF NOT EXISTS assets_fts_ad AFTER DELETE ON assets BEGIN
		INSERT INTO assets_fts(assets_fts, rowid, name, path, notes)
		VALUES ('delete', old.rowid, old.name, old.path, old.notes);
	END`,

	`CREATE TRIGGER IF NOT EXISTS assets_fts_au AFTER UPDATE ON assets BEGIN
		INSERT INTO assets_fts(assets_fts, rowid, name, path, notes)
		VALUES ('delete', old.rowid, old.name, old.path, old.notes);
		INSERT INTO assets_fts(rowid, name, path, notes)
		VALUES (new.rowid, new.name, new.path, new.notes);
	END`,
}

// EnsureSchema applies the store schema and stamps the version.
// Safe to run on every boot.
func EnsureSchema(ctx context.Context, conn *Conn) error {
	for _, stmt := range schemaStatements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("stamp schema version: %w", err)
	}
	return nil
}

// SchemaVersionOf reads the stamped schema version
func SchemaVersionOf(ctx context.Context, conn *Conn) (int, error) {
	rows, err := conn.QueryContext(ctx, "PRAGMA user_version")
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var version int
	if rows.Next() {
		if err := rows.Scan(&version); err != nil {
			return 0, err
		}
	}
	return version, rows.Err()
}
