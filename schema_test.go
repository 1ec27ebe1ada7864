package assetdb

import (
	"context"
	"path/filepath"
	"testing"
)

func newSchemaConn(t *testing.T) *Conn {
	t.Helper()
	ctx := context.Background()
	conn, err := openDirect(ctx, filepath.Join(t.TempDir(), "schema.db"), DefaultConfig())
	if err != nil {
		t.Fatalf("openDirect failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := EnsureSchema(ctx, conn); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	return conn
}

func ftsMatches(t *testing.T, conn *Conn, query string) int {
	t.Helper()
	ctx := context.Background()
	rows, err := conn.QueryContext(ctx,
		"SELECT COUNT(*) FROM assets_fts WHERE assets_fts MATCH ?", query)
	if err != nil {
		t.Fatalf("FTS query failed: %v", err)
	}
	defer rows.Close()

	var n int
	if !rows.Next() {
		t.Fatal("Expected a count row")
	}
	if err := rows.Scan(&n); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	return n
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	conn := newSchemaConn(t)
	ctx := context.Background()

	// Re-applying the whole script must be a no-op.
	if err := EnsureSchema(ctx, conn); err != nil {
		t.Fatalf("Second EnsureSchema failed: %v", err)
	}

	tables, err := listTables(ctx, conn)
	if err != nil {
		t.Fatalf("listTables failed: %v", err)
	}
	want := map[string]bool{"assets": false, "tags": false, "asset_tags": false}
	for _, table := range tables {
		if _, ok := want[table]; ok {
			want[table] = true
		}
	}
	for table, seen := range want {
		if !seen {
			t.Errorf("Expected table %s after EnsureSchema", table)
		}
	}
}

func TestSchemaVersionStamped(t *testing.T) {
	conn := newSchemaConn(t)

	version, err := SchemaVersionOf(context.Background(), conn)
	if err != nil {
		t.Fatalf("SchemaVersionOf failed: %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("Expected schema version %d, got %d", SchemaVersion, version)
	}
}

func TestSchema_SearchTriggersTrackWrites(t *testing.T) {
	conn := newSchemaConn(t)
	ctx := context.Background()

	if _, err := conn.ExecContext(ctx,
		"INSERT INTO assets (id, path, name, notes) VALUES ('a1', '/img/sunset.png', 'sunset.png', 'golden hour')"); err != nil {
		t.Fatalf("INSERT failed: %v", err)
	}
	if got := ftsMatches(t, conn, "sunset"); got != 1 {
		t.Errorf("Expected 1 match after insert, got %d", got)
	}

	if _, err := conn.ExecContext(ctx,
		"UPDATE assets SET name = 'dawn.png', path = '/img/dawn.png' WHERE id = 'a1'"); err != nil {
		t.Fatalf("UPDATE failed: %v", err)
	}
	if got := ftsMatches(t, conn, "sunset"); got != 0 {
		t.Errorf("Expected the old name to leave the index, got %d matches", got)
	}
	if got := ftsMatches(t, conn, "dawn"); got != 1 {
		t.Errorf("Expected 1 match for the new name, got %d", got)
	}

	if _, err := conn.ExecContext(ctx, "DELETE FROM assets WHERE id = 'a1'"); err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	if got := ftsMatches(t, conn, "dawn"); got != 0 {
		t.Errorf("Expected no matches after delete, got %d", got)
	}
}

func TestSchema_TagCascade(t *testing.T) {
	conn := newSchemaConn(t)
	ctx := context.Background()

	steps := []string{
		"INSERT INTO assets (id, path, name) VALUES ('a1', '/img/cat.png', 'cat.png')",
		"INSERT INTO tags (name) VALUES ('pets')",
		"INSERT INTO asset_tags (asset_id, tag_id) SELECT 'a1', id FROM tags WHERE name = 'pets'",
	}
	for _, stmt := range steps {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("setup %q failed: %v", stmt, err)
		}
	}

	if _, err := conn.ExecContext(ctx, "DELETE FROM assets WHERE id = 'a1'"); err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}

	rows, err := conn.QueryContext(ctx, "SELECT COUNT(*) FROM asset_tags")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
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
		t.Errorf("Expected the tag link to cascade away, got %d rows", n)
	}
}
