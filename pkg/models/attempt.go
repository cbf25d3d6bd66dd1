package models

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus tracks a query attempt through its lifecycle.
type AttemptStatus string

const (
	// StatusPending is the initial state before generation completes.
	StatusPending AttemptStatus = "pending"
	// StatusNotExecuted means SQL was generated but has not been run.
	StatusNotExecuted AttemptStatus = "not_executed"
	// StatusFailedGeneration means no SQL could be produced.
	StatusFailedGeneration AttemptStatus = "failed_generation"
	// StatusFailedExecution means the warehouse rejected or failed the query.
	StatusFailedExecution AttemptStatus = "failed_execution"
	// StatusTimeout means execution exceeded the wall-clock budget.
	StatusTimeout AttemptStatus = "timeout"
	// StatusSuccess is terminal: the query ran and results were stored.
	StatusSuccess AttemptStatus = "success"
)

// QueryAttempt records one natural-language question, the SQL generated
// for it, and the outcome of executing that SQL.
type QueryAttempt struct {
	ID                   uuid.UUID     `json:"id"`
	UserID               string        `json:"user_id"`
	NaturalLanguageQuery string        `json:"natural_language_query"`
	GeneratedSQL         *string       `json:"generated_sql,omitempty"`
	Status               AttemptStatus `json:"status"`
	CreatedAt            time.Time     `json:"created_at"`
	GeneratedAt          *time.Time    `json:"generated_at,omitempty"`
	ExecutedAt           *time.Time    `json:"executed_at,omitempty"`
	GenerationMs         *int64        `json:"generation_ms,omitempty"`
	ExecutionMs          *int64        `json:"execution_ms,omitempty"`
	ErrorMessage         *string       `json:"error_message,omitempty"`

	// OriginalAttemptID links a re-run to the attempt it retries.
	// Lineage forms a forest: set once at creation, never mutated.
	OriginalAttemptID *uuid.UUID `json:"original_attempt_id,omitempty"`
}

// CanExecute reports whether the attempt is in a state where execution
// is allowed. Successful attempts are terminal and refuse re-execution.
func (a *QueryAttempt) CanExecute() bool {
	if a.GeneratedSQL == nil || *a.GeneratedSQL == "" {
		return false
	}
	switch a.Status {
	case StatusNotExecuted, StatusFailedExecution, StatusTimeout:
		return true
	default:
		return false
	}
}

// ResultsManifest stores a query's serialized result set and the
// pagination metadata to page through it without re-executing.
// Owned 1:1 by a QueryAttempt and deleted with it.
type ResultsManifest struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	Columns   []string  `json:"columns"`
	Rows      [][]any   `json:"rows"`
	TotalRows int       `json:"total_rows"`
	PageSize  int       `json:"page_size"`
	PageCount int       `json:"page_count"`
	CreatedAt time.Time `json:"created_at"`
}

// PageCountFor computes the number of pages for a row count. An empty
// result has zero pages.
func PageCountFor(totalRows, pageSize int) int {
	if totalRows <= 0 || pageSize <= 0 {
		return 0
	}
	return (totalRows + pageSize - 1) / pageSize
}

// Page returns the rows for a 1-based page number. Out-of-range pages
// return an empty slice.
func (m *ResultsManifest) Page(page int) [][]any {
	if page < 1 || m.PageSize <= 0 {
		return nil
	}
	start := (page - 1) * m.PageSize
	if start >= len(m.Rows) {
		return nil
	}
	end := start + m.PageSize
	if end > len(m.Rows) {
		end = len(m.Rows)
	}
	return m.Rows[start:end]
}
