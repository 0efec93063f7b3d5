// Package sqlutil provides quoting helpers for generated SQL.
package sqlutil

import "strings"

// QuoteIdentifier wraps a table, column, or alias name in backticks,
// doubling any embedded backtick.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Qualify renders a qualified column reference: `qualifier`.`column`.
func Qualify(qualifier, column string) string {
	return QuoteIdentifier(qualifier) + "." + QuoteIdentifier(column)
}

// QuoteString renders a single-quoted SQL string literal, doubling any
// embedded single quote. Used for JSON object keys, which are string
// literals inside JSON_OBJECT(...) calls.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
