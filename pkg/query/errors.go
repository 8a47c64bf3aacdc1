package query

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRowReturning means the statement produced no result columns,
	// e.g. an UPDATE or a SET.
	ErrNotRowReturning = errors.New("statement does not return rows")

	// ErrNullScalar means the single result value was NULL.
	ErrNullScalar = errors.New("query returned a null value")
)

// RowCountError means a scalar query returned other than exactly one row.
type RowCountError struct {
	Query string
	Rows  int
}

func (e *RowCountError) Error() string {
	return fmt.Sprintf("query %q returned %d rows, expected exactly one", e.Query, e.Rows)
}

// fatalMessage is the FATAL log line for a failed scalar query.
func fatalMessage(err error) string {
	var rowCount *RowCountError
	switch {
	case errors.Is(err, ErrNotRowReturning):
		return "query is not a row-returning statement"
	case errors.As(err, &rowCount):
		return "query must return exactly one row"
	case errors.Is(err, ErrNullScalar):
		return "query returned a null value"
	default:
		return "query failed"
	}
}
