package assetdb

import (
	"errors"
	"testing"
)

func TestValidateIdentifier(t *testing.T) {
	t.Run("accepts bare identifiers", func(t *testing.T) {
		for _, name := range []string{"name", "created_at", "_hidden", "Col9", "x"} {
			if err := ValidateIdentifier(name); err != nil {
				t.Errorf("Expected %q to validate, got %v", name, err)
			}
		}
	})

	t.Run("rejects non-identifiers", func(t *testing.T) {
		bad := []string{
			"",
			"9col",
			"name; DROP TABLE assets",
			"name--",
			"na me",
			`"name"`,
			"a.b",
			"name)",
			"select",
		}
		for _, name := range bad {
			err := ValidateIdentifier(name)
			if err == nil {
				t.Errorf("Expected %q to be rejected", name)
				continue
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput for %q, got %v", name, err)
			}
		}
	})
}

func TestBuildInClause(t *testing.T) {
	t.Run("expands placeholders", func(t *testing.T) {
		tests := []struct {
			n    int
			want string
		}{
			{1, "kind IN (?)"},
			{3, "kind IN (?, ?, ?)"},
		}
		for _, tt := range tests {
			got, err := BuildInClause("kind IN (%s)", tt.n)
			if err != nil {
				t.Fatalf("BuildInClause failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		}
	})

	t.Run("rejects bad input", func(t *testing.T) {
		cases := []struct {
			name     string
			template string
			n        int
		}{
			{"zero values", "kind IN (%s)", 0},
			{"negative values", "kind IN (%s)", -2},
			{"no marker", "kind IN (?)", 3},
			{"two markers", "kind IN (%s, %s)", 3},
			{"nested parens", "kind IN ((%s))", 3},
		}
		for _, tt := range cases {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := BuildInClause(tt.template, tt.n); !errors.Is(err, ErrInvalidInput) {
					t.Errorf("Expected ErrInvalidInput, got %v", err)
				}
			})
		}
	})
}

func TestQuoteIdent(t *testing.T) {
	if got := quoteIdent("assets"); got != `"assets"` {
		t.Errorf("Expected quoted identifier, got %s", got)
	}
	if got := quoteIdent(`we"ird`); got != `"we""ird"` {
		t.Errorf("Expected embedded quote doubled, got %s", got)
	}
}

func TestLeadingKeyword(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{"plain select", "SELECT * FROM assets", "SELECT"},
		{"lowercase", "insert into assets values (1)", "INSERT"},
		{"leading spaces", "   UPDATE assets SET kind = 'x'", "UPDATE"},
		{"line comment", "-- count them\nSELECT count(*) FROM assets", "SELECT"},
		{"block comment", "/* hot path */ DELETE FROM assets", "DELETE"},
		{"stacked comments", "-- a\n/* b */\n  WITH x AS (SELECT 1) SELECT * FROM x", "WITH"},
		{"comment only", "-- nothing here", ""},
		{"unterminated block", "/* dangling", ""},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := leadingKeyword(tt.sql); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestIsWriteStatement(t *testing.T) {
	reads := []string{
		"SELECT 1",
		"  select id from assets",
		"PRAGMA integrity_check",
		"EXPLAIN QUERY PLAN SELECT 1",
		"WITH x AS (SELECT 1) SELECT * FROM x",
	}
	for _, sql := range reads {
		if isWriteStatement(sql) {
			t.Errorf("Expected %q to be read-only", sql)
		}
	}

	writes := []string{
		"INSERT INTO assets (id) VALUES (?)",
		"UPDATE assets SET kind = ?",
		"DELETE FROM assets",
		"CREATE TABLE t (id INTEGER)",
		"ALTER TABLE assets ADD COLUMN extra TEXT",
		"VACUUM",
		"",
		"-- only a comment",
	}
	for _, sql := range writes {
		if !isWriteStatement(sql) {
			t.Errorf("Expected %q to need the writer slot", sql)
		}
	}
}

func TestFtsQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"dreamshaper", `"dreamshaper"`},
		{"two words", `"two" "words"`},
		{`say "hi"`, `"say" """hi"""`},
		{"NEAR dash-term", `"NEAR" "dash-term"`},
	}
	for _, tt := range tests {
		if got := ftsQuote(tt.in); got != tt.want {
			t.Errorf("ftsQuote(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}

	if got := ftsQuote("   "); got != "" {
		t.Errorf("Expected empty quote for blank input, got %q", got)
	}
}
