package assetdb

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifySQLiteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errorClass
	}{
		{"nil", nil, classOther},
		{"locked", errors.New("database is locked"), classLocked},
		{"locked table", errors.New("database table is locked: assets"), classLocked},
		{"schema locked", errors.New("database schema is locked: main"), classLocked},
		{"busy", errors.New("SQLITE_BUSY: database busy"), classLocked},
		{"malformed", errors.New("database disk image is malformed (11)"), classMalformed},
		{"not a database", errors.New("file is not a database (26)"), classMalformed},
		{"missing column", errors.New("no such column: rating"), classMissingColumn},
		{"missing table", errors.New("no such table: assets"), classMissingTable},
		{"constraint", errors.New("UNIQUE constraint failed: assets.path"), classOther},
		{"wrapped", fmt.Errorf("exec insert: %w", errors.New("database is locked")), classLocked},
		{"mixed case", errors.New("Database Is Locked"), classLocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifySQLiteError(tt.err); got != tt.want {
				t.Errorf("Expected class %s, got %s", tt.want, got)
			}
		})
	}
}

func TestClassString(t *testing.T) {
	tests := []struct {
		class errorClass
		want  string
	}{
		{classLocked, "locked"},
		{classMalformed, "malformed"},
		{classMissingColumn, "missing_column"},
		{classMissingTable, "missing_table"},
		{classOther, "other"},
	}

	for _, tt := range tests {
		if got := tt.class.String(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

func TestMissingColumnName(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"bare", errors.New("no such column: rating"), "rating"},
		{"qualified", errors.New("no such column: assets.rating"), "rating"},
		{"schema qualified", errors.New("no such column: main.assets.rating"), "rating"},
		{"driver suffix", errors.New("SQL logic error: no such column: rating (1)"), "rating"},
		{"quoted", errors.New(`no such column: "rating"`), "rating"},
		{"absent marker", errors.New("syntax error near SELECT"), ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := missingColumnName(tt.err); got != tt.want {
				t.Errorf("Expected column %q, got %q", tt.want, got)
			}
		})
	}
}

func TestMissingColumnRef(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantTable  string
		wantColumn string
	}{
		{"bare", errors.New("no such column: rating"), "", "rating"},
		{"qualified", errors.New("no such column: assets.rating"), "assets", "rating"},
		{"schema qualified", errors.New("no such column: main.assets.rating"), "assets", "rating"},
		{"absent", errors.New("no rows"), "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, column := missingColumnRef(tt.err)
			if table != tt.wantTable || column != tt.wantColumn {
				t.Errorf("Expected (%q, %q), got (%q, %q)", tt.wantTable, tt.wantColumn, table, column)
			}
		})
	}
}

func TestMissingTableName(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"bare", errors.New("no such table: assets"), "assets"},
		{"schema qualified", errors.New("no such table: main.assets"), "assets"},
		{"driver suffix", errors.New("no such table: assets (1)"), "assets"},
		{"absent marker", errors.New("database is locked"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := missingTableName(tt.err); got != tt.want {
				t.Errorf("Expected table %q, got %q", tt.want, got)
			}
		})
	}
}
