package utils

import "strings"

// QuoteLiteral renders value as a single-quoted SQL string literal. Statements such as COPY and
// CREATE VIEW ... read_parquet take file paths that cannot be bound as parameters.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
