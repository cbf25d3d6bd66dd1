// Package postgres implements the warehouse query executor for
// PostgreSQL targets.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fleetsense/fleetsense-engine/pkg/adapters/datasource"
	"github.com/fleetsense/fleetsense-engine/pkg/apperrors"
	"github.com/fleetsense/fleetsense-engine/pkg/logging"
)

// Postgres error code raised when statement_timeout cancels a query.
const queryCanceledCode = "57014"

// Config holds warehouse connection settings.
type Config struct {
	URL          string
	Timeout      time.Duration
	PoolMaxConns int32
}

// Executor runs generated SQL against a PostgreSQL warehouse. Every
// session is forced read-only and carries a statement timeout, so a
// statement that slips past validation still cannot write or run away.
type Executor struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  *zap.Logger
}

// NewExecutor opens a pool to the warehouse and verifies connectivity.
func NewExecutor(ctx context.Context, cfg *Config, logger *zap.Logger) (*Executor, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse warehouse URL: %w", err)
	}

	if cfg.PoolMaxConns > 0 {
		poolConfig.MaxConns = cfg.PoolMaxConns
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	timeoutMs := timeout.Milliseconds()
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "SET default_transaction_read_only = on"); err != nil {
			return fmt.Errorf("failed to set read-only mode: %w", err)
		}
		if _, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", timeoutMs)); err != nil {
			return fmt.Errorf("failed to set statement timeout: %w", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create warehouse pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping warehouse: %w", err)
	}

	logger.Info("Connected to warehouse",
		zap.String("url", logging.SanitizeConnectionString(cfg.URL)),
		zap.Duration("statement_timeout", timeout),
	)

	return &Executor{
		pool:    pool,
		timeout: timeout,
		logger:  logger.Named("warehouse"),
	}, nil
}

// ExecuteQuery runs a single statement and collects the full result set.
func (e *Executor) ExecuteQuery(ctx context.Context, sqlQuery string) (*datasource.QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	rows, err := e.pool.Query(ctx, sqlQuery)
	if err != nil {
		return nil, e.classifyError(err, sqlQuery)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]datasource.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = datasource.ColumnInfo{
			Name: string(fd.Name),
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, e.classifyError(err, sqlQuery)
		}
		row := make([]any, len(values))
		copy(row, values)
		resultRows = append(resultRows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, e.classifyError(err, sqlQuery)
	}

	e.logger.Debug("Warehouse query executed",
		zap.String("query", logging.SanitizeQuery(sqlQuery)),
		zap.Int("rows", len(resultRows)),
		zap.Duration("duration", time.Since(start)),
	)

	return &datasource.QueryResult{
		Columns: columns,
		Rows:    resultRows,
	}, nil
}

// classifyError maps driver failures onto the engine's error taxonomy.
// Timeouts must be distinguishable from ordinary execution errors
// because they set a different attempt status.
func (e *Executor) classifyError(err error, sqlQuery string) error {
	sanitized := logging.SanitizeQuery(sqlQuery)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == queryCanceledCode {
		e.logger.Warn("Warehouse query timed out", zap.String("query", sanitized))
		return fmt.Errorf("query exceeded %s statement timeout: %w", e.timeout, apperrors.ErrExecutionTimeout)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		e.logger.Warn("Warehouse query timed out", zap.String("query", sanitized))
		return fmt.Errorf("query exceeded %s timeout: %w", e.timeout, apperrors.ErrExecutionTimeout)
	}

	e.logger.Warn("Warehouse query failed",
		zap.String("query", sanitized),
		zap.String("error", logging.SanitizeError(err)),
	)
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", pgErr.Message, apperrors.ErrExecutionError)
	}
	return fmt.Errorf("%s: %w", logging.SanitizeError(err), apperrors.ErrExecutionError)
}

// Ping verifies warehouse connectivity.
func (e *Executor) Ping(ctx context.Context) error {
	return e.pool.Ping(ctx)
}

// Close releases the pool.
func (e *Executor) Close() {
	e.pool.Close()
}

// pgTypeNameFromOID maps common PostgreSQL type OIDs to readable names.
// Unknown types return "UNKNOWN".
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case 16:
		return "BOOL"
	case 17:
		return "BYTEA"
	case 20:
		return "INT8"
	case 21:
		return "INT2"
	case 23:
		return "INT4"
	case 25:
		return "TEXT"
	case 114:
		return "JSON"
	case 700:
		return "FLOAT4"
	case 701:
		return "FLOAT8"
	case 1042:
		return "BPCHAR"
	case 1043:
		return "VARCHAR"
	case 1082:
		return "DATE"
	case 1083:
		return "TIME"
	case 1114:
		return "TIMESTAMP"
	case 1184:
		return "TIMESTAMPTZ"
	case 1186:
		return "INTERVAL"
	case 1700:
		return "NUMERIC"
	case 2950:
		return "UUID"
	case 3802:
		return "JSONB"
	case 1007:
		return "INT4[]"
	case 1009:
		return "TEXT[]"
	case 1016:
		return "INT8[]"
	default:
		return "UNKNOWN"
	}
}

var _ datasource.QueryExecutor = (*Executor)(nil)
