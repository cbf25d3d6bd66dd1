// Package datasource defines the contract for executing generated SQL
// against the analytics warehouse. The warehouse connection is separate
// from the engine's own store and is always opened read-only.
package datasource

import "context"

// ColumnInfo describes one column of a query result.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult holds a complete result set in column order.
type QueryResult struct {
	Columns []ColumnInfo `json:"columns"`
	Rows    [][]any      `json:"rows"`
}

// ColumnNames returns just the column names, in result order.
func (r *QueryResult) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// QueryExecutor executes read-only SQL against the warehouse.
type QueryExecutor interface {
	// ExecuteQuery runs a single SELECT statement and returns the full
	// result set. Statement timeouts surface as
	// apperrors.ErrExecutionTimeout, other database failures as
	// apperrors.ErrExecutionError.
	ExecuteQuery(ctx context.Context, sqlQuery string) (*QueryResult, error)

	// Ping verifies warehouse connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying pool.
	Close()
}
