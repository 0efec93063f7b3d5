// Package naming derives conventional storage names from entity type
// names: table names, foreign key columns, and association table names.
// Schema registration uses these as defaults when the caller leaves the
// corresponding descriptor fields empty.
package naming

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// TableName converts an entity type name to its conventional table name.
// Example: "Author" -> "authors", "OrderLine" -> "order_lines".
func TableName(entityType string) string {
	return inflection.Plural(toSnakeCase(entityType))
}

// ForeignKey derives the conventional FK column referencing the given
// table. Example: "authors" -> "author_id".
func ForeignKey(table string) string {
	return inflection.Singular(table) + "_id"
}

// BridgeTable derives the conventional association table name for a
// many-to-many relation between two tables. The sides are joined in
// lexical order so both directions agree on the name.
// Example: ("books", "tags") -> "books_tags".
func BridgeTable(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

// toSnakeCase converts PascalCase or camelCase to snake_case.
// Consecutive upper-case runs stay together: "HTTPRoute" -> "http_route".
func toSnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			// Boundary before an upper rune that follows a lower rune, or
			// that starts a new word after an upper-case run.
			if i > 0 && (unicode.IsLower(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
