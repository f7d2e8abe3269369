package sqlite

import (
	"database/sql"
	"errors"
	"strings"
)

// isUniqueViolation checks if an error is a unique or primary key constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed") ||
		strings.Contains(errStr, "constraint failed: UNIQUE")
}

// uniqueColumn reports which column a unique violation was raised on, e.g. "users.email".
func uniqueColumn(err error) string {
	errStr := err.Error()
	i := strings.Index(errStr, "UNIQUE constraint failed: ")
	if i < 0 {
		return ""
	}
	col := errStr[i+len("UNIQUE constraint failed: "):]
	if j := strings.IndexAny(col, " ,)"); j >= 0 {
		col = col[:j]
	}
	return col
}

// isForeignKeyViolation checks if an error is a foreign key constraint violation.
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// isNoRows checks if an error indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
