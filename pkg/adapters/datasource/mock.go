package datasource

import "context"

// MockQueryExecutor is a function-field test double for QueryExecutor.
type MockQueryExecutor struct {
	ExecuteQueryFunc  func(ctx context.Context, sqlQuery string) (*QueryResult, error)
	ExecuteQueryCalls int
	Queries           []string
}

var _ QueryExecutor = (*MockQueryExecutor)(nil)

func (m *MockQueryExecutor) ExecuteQuery(ctx context.Context, sqlQuery string) (*QueryResult, error) {
	m.ExecuteQueryCalls++
	m.Queries = append(m.Queries, sqlQuery)
	if m.ExecuteQueryFunc != nil {
		return m.ExecuteQueryFunc(ctx, sqlQuery)
	}
	return &QueryResult{}, nil
}

func (m *MockQueryExecutor) Ping(ctx context.Context) error { return nil }

func (m *MockQueryExecutor) Close() {}
