package assetdb

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier accepts name only when it is a bare column
// identifier: it must match the identifier pattern and survive a probe
// parse as a plain column reference. Reserved words and anything
// carrying quotes, spaces, or operators fail the probe.
func ValidateIdentifier(name string) error {
	if name == "" || !identifierPattern.MatchString(name) {
		return invalidIdentifier(name, "must be a bare identifier")
	}

	stmt, err := sqlparser.Parse("SELECT " + name + " FROM probe")
	if err != nil {
		return invalidIdentifier(name, "does not parse as a column reference")
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok || len(sel.SelectExprs) != 1 {
		return invalidIdentifier(name, "does not parse as a single column")
	}
	ae, ok := sel.SelectExprs[0].(*sqlparser.AliasedExpr)
	if !ok || !ae.As.IsEmpty() {
		return invalidIdentifier(name, "does not parse as a single column")
	}
	col, ok := ae.Expr.(*sqlparser.ColName)
	if !ok || !strings.EqualFold(col.Name.String(), name) {
		return invalidIdentifier(name, "does not parse as a single column")
	}
	return nil
}

func invalidIdentifier(name, reason string) error {
	return WithContext(ErrInvalidInput, map[string]interface{}{
		"field":  "identifier",
		"value":  name,
		"reason": reason,
	})
}

// BuildInClause expands an IN-clause template containing one %s marker
// into n bound placeholders: ("kind IN (%s)", 3) becomes
// "kind IN (?, ?, ?)". Malformed templates and non-positive n are
// rejected rather than guessed at.
func BuildInClause(template string, n int) (string, error) {
	if n <= 0 {
		return "", WithContext(ErrInvalidInput, map[string]interface{}{
			"field":  "n",
			"value":  n,
			"reason": "IN clause needs at least one value",
		})
	}
	if strings.Count(template, "%s") != 1 {
		return "", WithContext(ErrInvalidInput, map[string]interface{}{
			"field":  "template",
			"value":  template,
			"reason": "template must contain exactly one %s marker",
		})
	}
	if strings.Contains(template, "((") {
		return "", WithContext(ErrInvalidInput, map[string]interface{}{
			"field":  "template",
			"value":  template,
			"reason": "nested parentheses are not allowed",
		})
	}

	placeholders := strings.Repeat("?, ", n-1) + "?"
	return fmt.Sprintf(template, placeholders), nil
}

// quoteIdent wraps an identifier in double quotes, doubling any
// embedded quote. Used for identifiers this package generates itself;
// caller-supplied names go through ValidateIdentifier instead.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
