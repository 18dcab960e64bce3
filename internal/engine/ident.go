package engine

import (
	"regexp"
	"strings"

	taxierrors "github.com/taxidash/taxidash/internal/errors"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name can be used as a table name.
func ValidIdentifier(name string) bool {
	return identPattern.MatchString(name)
}

func checkIdentifier(name string) error {
	if !ValidIdentifier(name) {
		return taxierrors.NewValidationError(taxierrors.CodeInvalidIdentifier, "invalid table name "+quoteIdent(name))
	}
	return nil
}

// quoteIdent quotes a column or table identifier. Parquet column names are
// arbitrary strings, so embedded quotes are doubled.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
