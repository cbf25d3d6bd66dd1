// Package repositories provides data access for the engine store.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fleetsense/fleetsense-engine/pkg/apperrors"
	"github.com/fleetsense/fleetsense-engine/pkg/database"
	"github.com/fleetsense/fleetsense-engine/pkg/models"
)

// AttemptRepository provides data access for query attempts.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.QueryAttempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.QueryAttempt, error)
	Update(ctx context.Context, attempt *models.QueryAttempt) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.QueryAttempt, error)
}

type attemptRepository struct {
	db *database.DB
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(db *database.DB) AttemptRepository {
	return &attemptRepository{db: db}
}

var _ AttemptRepository = (*attemptRepository)(nil)

const attemptColumns = `
	id, user_id, natural_language_query, generated_sql, status,
	created_at, generated_at, executed_at,
	generation_ms, execution_ms, error_message, original_attempt_id`

func (r *attemptRepository) Create(ctx context.Context, attempt *models.QueryAttempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	if attempt.Status == "" {
		attempt.Status = models.StatusPending
	}

	query := `
		INSERT INTO query_attempts (
			id, user_id, natural_language_query, generated_sql, status,
			created_at, generated_at, executed_at,
			generation_ms, execution_ms, error_message, original_attempt_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.Exec(ctx, query,
		attempt.ID, attempt.UserID, attempt.NaturalLanguageQuery, attempt.GeneratedSQL, attempt.Status,
		attempt.CreatedAt, attempt.GeneratedAt, attempt.ExecutedAt,
		attempt.GenerationMs, attempt.ExecutionMs, attempt.ErrorMessage, attempt.OriginalAttemptID,
	)
	if err != nil {
		return fmt.Errorf("failed to create query attempt: %w", err)
	}

	return nil
}

func (r *attemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.QueryAttempt, error) {
	query := `SELECT` + attemptColumns + `
		FROM query_attempts
		WHERE id = $1`

	attempt, err := scanAttemptRow(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("query attempt %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, err
	}

	return attempt, nil
}

func (r *attemptRepository) Update(ctx context.Context, attempt *models.QueryAttempt) error {
	query := `
		UPDATE query_attempts
		SET generated_sql = $2,
		    status = $3,
		    generated_at = $4,
		    executed_at = $5,
		    generation_ms = $6,
		    execution_ms = $7,
		    error_message = $8
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		attempt.ID,
		attempt.GeneratedSQL, attempt.Status,
		attempt.GeneratedAt, attempt.ExecutedAt,
		attempt.GenerationMs, attempt.ExecutionMs,
		attempt.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to update query attempt: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("query attempt %s: %w", attempt.ID, apperrors.ErrNotFound)
	}

	return nil
}

func (r *attemptRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.QueryAttempt, error) {
	query := `SELECT` + attemptColumns + `
		FROM query_attempts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.QueryAttempt
	for rows.Next() {
		attempt, err := scanAttemptRow(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return attempts, nil
}

func scanAttemptRow(row pgx.Row) (*models.QueryAttempt, error) {
	var attempt models.QueryAttempt

	err := row.Scan(
		&attempt.ID, &attempt.UserID, &attempt.NaturalLanguageQuery, &attempt.GeneratedSQL, &attempt.Status,
		&attempt.CreatedAt, &attempt.GeneratedAt, &attempt.ExecutedAt,
		&attempt.GenerationMs, &attempt.ExecutionMs, &attempt.ErrorMessage, &attempt.OriginalAttemptID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan query attempt: %w", err)
	}

	return &attempt, nil
}
