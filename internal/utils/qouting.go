package utils

import (
	"fmt"
	"strings"
)

// QuoteIdentifier quotes an identifier based on the specified SQL dialect.
// Handles basic escaping for the quote character itself within the name.
// Field names arriving from external APIs are not under our control, so
// every identifier interpolated into generated DDL/MERGE text goes through
// here.
func QuoteIdentifier(name, dialect string) string {
	dialect = strings.ToLower(dialect)
	switch dialect {
	case "mysql":
		return fmt.Sprintf("`%s`", strings.ReplaceAll(name, "`", "``"))
	case "postgres", "sqlite":
		return fmt.Sprintf("\"%s\"", strings.ReplaceAll(name, "\"", "\"\""))
	default:
		// ANSI double quotes as fallback for unknown dialects.
		return fmt.Sprintf("\"%s\"", strings.ReplaceAll(name, "\"", "\"\""))
	}
}

// UnquoteIdentifier removes dialect-specific quotes from an identifier and
// unescapes quote characters within the name. Inputs that are not quoted in
// the expected way for the dialect are returned unchanged.
func UnquoteIdentifier(quotedName, dialect string) string {
	name := strings.TrimSpace(quotedName)
	if len(name) < 2 {
		return name
	}

	firstChar := name[0]
	lastChar := name[len(name)-1]
	var escapeSequence, originalChar string
	matched := false

	switch strings.ToLower(dialect) {
	case "mysql":
		if firstChar == '`' && lastChar == '`' {
			escapeSequence, originalChar, matched = "``", "`", true
		}
	default: // postgres, sqlite, ANSI
		if firstChar == '"' && lastChar == '"' {
			escapeSequence, originalChar, matched = "\"\"", "\"", true
		}
	}

	if !matched {
		return name
	}
	return strings.ReplaceAll(name[1:len(name)-1], escapeSequence, originalChar)
}

// QuoteStringLiteral renders a string as a single-quoted SQL literal.
func QuoteStringLiteral(val string) string {
	return "'" + strings.ReplaceAll(val, "'", "''") + "'"
}
