package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetsense/fleetsense-engine/pkg/adapters/datasource"
	"github.com/fleetsense/fleetsense-engine/pkg/apperrors"
	"github.com/fleetsense/fleetsense-engine/pkg/logging"
	"github.com/fleetsense/fleetsense-engine/pkg/models"
	"github.com/fleetsense/fleetsense-engine/pkg/repositories"
	enginesql "github.com/fleetsense/fleetsense-engine/pkg/sql"
)

// ResultsPage is one page of an executed attempt's results.
type ResultsPage struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	Columns   []string  `json:"columns"`
	Rows      [][]any   `json:"rows"`
	Page      int       `json:"page"`
	PageSize  int       `json:"page_size"`
	PageCount int       `json:"page_count"`
	TotalRows int       `json:"total_rows"`
}

// ExecutionService runs generated SQL for an attempt and serves the
// paginated results. It revalidates the statement itself; SQL stored on
// an attempt is untrusted regardless of what the synthesizer checked.
type ExecutionService interface {
	// Execute runs an attempt's SQL against the warehouse. The attempt
	// always leaves not_executed: success, failed_execution or timeout.
	// Re-executing a successful attempt returns apperrors.ErrConflict.
	Execute(ctx context.Context, attemptID uuid.UUID) (*models.ResultsManifest, error)

	// GetResultsPage returns one page (1-based) of an attempt's results.
	GetResultsPage(ctx context.Context, attemptID uuid.UUID, page int) (*ResultsPage, error)
}

type executionService struct {
	attempts  repositories.AttemptRepository
	manifests repositories.ManifestRepository
	executor  datasource.QueryExecutor
	pageSize  int
	logger    *zap.Logger
}

// NewExecutionService creates an ExecutionService.
func NewExecutionService(
	attempts repositories.AttemptRepository,
	manifests repositories.ManifestRepository,
	executor datasource.QueryExecutor,
	pageSize int,
	logger *zap.Logger,
) ExecutionService {
	return &executionService{
		attempts:  attempts,
		manifests: manifests,
		executor:  executor,
		pageSize:  pageSize,
		logger:    logger.Named("execution_service"),
	}
}

var _ ExecutionService = (*executionService)(nil)

func (s *executionService) Execute(ctx context.Context, attemptID uuid.UUID) (*models.ResultsManifest, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	if attempt.Status == models.StatusSuccess {
		return nil, fmt.Errorf("attempt %s already executed successfully: %w", attemptID, apperrors.ErrConflict)
	}
	if !attempt.CanExecute() {
		return nil, fmt.Errorf("attempt %s in status %s has no executable SQL: %w",
			attemptID, attempt.Status, apperrors.ErrConflict)
	}

	sqlQuery := *attempt.GeneratedSQL

	// Guard-side validation, independent of generation-time checks.
	if err := enginesql.Validate(sqlQuery); err != nil {
		return nil, s.recordFailure(ctx, attempt, models.StatusFailedExecution,
			fmt.Errorf("statement rejected: %w", err))
	}
	if err := enginesql.CheckLiteralsForInjection(sqlQuery); err != nil {
		return nil, s.recordFailure(ctx, attempt, models.StatusFailedExecution,
			fmt.Errorf("statement rejected: %w", err))
	}

	s.logger.Info("Executing attempt",
		zap.String("attempt_id", attemptID.String()),
		zap.String("query", logging.SanitizeQuery(sqlQuery)),
	)

	start := time.Now()
	result, err := s.executor.ExecuteQuery(ctx, sqlQuery)
	elapsed := time.Since(start)

	if err != nil {
		status := models.StatusFailedExecution
		if errors.Is(err, apperrors.ErrExecutionTimeout) {
			status = models.StatusTimeout
		}
		return nil, s.recordFailureWithTiming(ctx, attempt, status, err, elapsed)
	}

	manifest := &models.ResultsManifest{
		AttemptID: attempt.ID,
		Columns:   result.ColumnNames(),
		Rows:      result.Rows,
		TotalRows: len(result.Rows),
		PageSize:  s.pageSize,
		PageCount: models.PageCountFor(len(result.Rows), s.pageSize),
		CreatedAt: time.Now().UTC(),
	}

	if err := s.manifests.Save(ctx, manifest); err != nil {
		return nil, s.recordFailureWithTiming(ctx, attempt, models.StatusFailedExecution,
			fmt.Errorf("failed to store results: %w", err), elapsed)
	}

	now := time.Now().UTC()
	ms := elapsed.Milliseconds()
	attempt.Status = models.StatusSuccess
	attempt.ExecutedAt = &now
	attempt.ExecutionMs = &ms
	attempt.ErrorMessage = nil
	if err := s.attempts.Update(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to update attempt: %w", err)
	}

	s.logger.Info("Execution complete",
		zap.String("attempt_id", attemptID.String()),
		zap.Int("rows", manifest.TotalRows),
		zap.Int("pages", manifest.PageCount),
		zap.Duration("duration", elapsed),
	)

	return manifest, nil
}

func (s *executionService) recordFailure(ctx context.Context, attempt *models.QueryAttempt, status models.AttemptStatus, cause error) error {
	return s.recordFailureWithTiming(ctx, attempt, status, cause, 0)
}

// recordFailureWithTiming persists the failure outcome. The attempt
// must not remain not_executed once execution was attempted, so a
// bookkeeping failure here is logged and joined to the original error.
func (s *executionService) recordFailureWithTiming(ctx context.Context, attempt *models.QueryAttempt, status models.AttemptStatus, cause error, elapsed time.Duration) error {
	now := time.Now().UTC()
	msg := logging.SanitizeError(cause)
	attempt.Status = status
	attempt.ExecutedAt = &now
	attempt.ErrorMessage = &msg
	if elapsed > 0 {
		ms := elapsed.Milliseconds()
		attempt.ExecutionMs = &ms
	}

	if updateErr := s.attempts.Update(ctx, attempt); updateErr != nil {
		s.logger.Error("Failed to record execution failure",
			zap.String("attempt_id", attempt.ID.String()),
			zap.Error(updateErr),
		)
		return errors.Join(cause, updateErr)
	}

	s.logger.Warn("Execution failed",
		zap.String("attempt_id", attempt.ID.String()),
		zap.String("status", string(status)),
		zap.String("error", msg),
	)

	return cause
}

func (s *executionService) GetResultsPage(ctx context.Context, attemptID uuid.UUID, page int) (*ResultsPage, error) {
	if page < 1 {
		return nil, fmt.Errorf("page must be >= 1, got %d: %w", page, apperrors.ErrNotFound)
	}

	manifest, err := s.manifests.GetByAttemptID(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	if manifest.TotalRows > 0 && page > manifest.PageCount {
		return nil, fmt.Errorf("page %d out of range (1..%d): %w", page, manifest.PageCount, apperrors.ErrNotFound)
	}

	return &ResultsPage{
		AttemptID: manifest.AttemptID,
		Columns:   manifest.Columns,
		Rows:      manifest.Page(page),
		Page:      page,
		PageSize:  manifest.PageSize,
		PageCount: manifest.PageCount,
		TotalRows: manifest.TotalRows,
	}, nil
}
