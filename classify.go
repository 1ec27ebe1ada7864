package assetdb

import "strings"

// errorClass buckets driver errors for the retry, self-heal, and
// recovery layers.
type errorClass int

const (
	classOther errorClass = iota
	classLocked
	classMalformed
	classMissingColumn
	classMissingTable
)

func (c errorClass) String() string {
	switch c {
	case classLocked:
		return "locked"
	case classMalformed:
		return "malformed"
	case classMissingColumn:
		return "missing_column"
	case classMissingTable:
		return "missing_table"
	default:
		return "other"
	}
}

// Engine message fragments. The wording is stable across engine versions
// and survives the driver's wrapping, which makes substring matching the
// reliable contract here.
var lockedPhrases = []string{
	"database is locked",
	"database table is locked",
	"schema is locked",
	"busy",
}

var malformedPhrases = []string{
	"disk image is malformed",
	"file is not a database",
}

// classifySQLiteError buckets a driver error by its message text.
func classifySQLiteError(err error) errorClass {
	if err == nil {
		return classOther
	}
	msg := strings.ToLower(err.Error())

	for _, phrase := range lockedPhrases {
		if strings.Contains(msg, phrase) {
			return classLocked
		}
	}
	for _, phrase := range malformedPhrases {
		if strings.Contains(msg, phrase) {
			return classMalformed
		}
	}
	if strings.Contains(msg, "no such column") {
		return classMissingColumn
	}
	if strings.Contains(msg, "no such table") {
		return classMissingTable
	}
	return classOther
}

// missingColumnName extracts the column identifier from a
// "no such column" error, or "" when it cannot be found.
func missingColumnName(err error) string {
	return identifierAfter(err, "no such column:")
}

// missingColumnRef extracts (table, column) from a qualified
// "no such column: t.c" message. table is "" when the reference is
// bare; a leading schema qualifier like "main." is dropped.
func missingColumnRef(err error) (string, string) {
	ref := rawIdentifierAfter(err, "no such column:")
	if ref == "" {
		return "", ""
	}
	parts := strings.Split(ref, ".")
	column := strings.Trim(parts[len(parts)-1], "\"'`[]")
	if len(parts) < 2 {
		return "", column
	}
	table := strings.Trim(parts[len(parts)-2], "\"'`[]")
	return table, column
}

// missingTableName extracts the table identifier from a
// "no such table" error, or "" when it cannot be found.
func missingTableName(err error) string {
	return identifierAfter(err, "no such table:")
}

func identifierAfter(err error, marker string) string {
	ref := rawIdentifierAfter(err, marker)
	// Qualified names keep only the final segment.
	if dot := strings.LastIndex(ref, "."); dot >= 0 {
		ref = ref[dot+1:]
	}
	return strings.Trim(ref, "\"'`[]")
}

// rawIdentifierAfter returns the token following marker with any
// qualification intact.
func rawIdentifierAfter(err error, marker string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	idx := strings.Index(strings.ToLower(msg), marker)
	if idx < 0 {
		return ""
	}

	rest := strings.TrimSpace(msg[idx+len(marker):])
	// The driver appends the numeric result code in parentheses.
	if cut := strings.IndexAny(rest, " ("); cut >= 0 {
		rest = rest[:cut]
	}
	return rest
}
