package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetsense/fleetsense-engine/pkg/apperrors"
	"github.com/fleetsense/fleetsense-engine/pkg/llm"
	"github.com/fleetsense/fleetsense-engine/pkg/logging"
	"github.com/fleetsense/fleetsense-engine/pkg/models"
	"github.com/fleetsense/fleetsense-engine/pkg/prompts"
	"github.com/fleetsense/fleetsense-engine/pkg/repositories"
)

// GenerationResult is the outcome of one generation run. When
// Clarification is non-empty the attempt holds no executable SQL.
type GenerationResult struct {
	Attempt        *models.QueryAttempt `json:"attempt"`
	Clarification  string               `json:"clarification,omitempty"`
	SelectedTables []string             `json:"selected_tables,omitempty"`
	ShortCircuited bool                 `json:"short_circuited"`
	MaxSimilarity  float64              `json:"max_similarity"`
}

// QueryService orchestrates the generation pipeline: table selection,
// example retrieval, SQL synthesis, and attempt bookkeeping.
type QueryService interface {
	// Generate runs the pipeline for a question and persists the
	// resulting attempt. originalAttemptID links a retry to the attempt
	// it rephrases; pass uuid.Nil for a fresh question.
	Generate(ctx context.Context, userID, question string, originalAttemptID uuid.UUID) (*GenerationResult, error)

	// GetAttempt returns one attempt by ID.
	GetAttempt(ctx context.Context, id uuid.UUID) (*models.QueryAttempt, error)

	// ListAttempts returns a user's recent attempts, newest first.
	ListAttempts(ctx context.Context, userID string, limit int) ([]*models.QueryAttempt, error)
}

type queryService struct {
	attempts            repositories.AttemptRepository
	catalog             SchemaCatalog
	examples            ExampleStore
	selector            TableSelector
	synthesizer         SQLSynthesizer
	embedder            llm.Embedder
	similarityThreshold float64
	topK                int
	logger              *zap.Logger
}

// NewQueryService creates the generation orchestrator.
func NewQueryService(
	attempts repositories.AttemptRepository,
	catalog SchemaCatalog,
	examples ExampleStore,
	selector TableSelector,
	synthesizer SQLSynthesizer,
	embedder llm.Embedder,
	similarityThreshold float64,
	topK int,
	logger *zap.Logger,
) QueryService {
	return &queryService{
		attempts:            attempts,
		catalog:             catalog,
		examples:            examples,
		selector:            selector,
		synthesizer:         synthesizer,
		embedder:            embedder,
		similarityThreshold: similarityThreshold,
		topK:                topK,
		logger:              logger.Named("query_service"),
	}
}

var _ QueryService = (*queryService)(nil)

func (s *queryService) Generate(ctx context.Context, userID, question string, originalAttemptID uuid.UUID) (*GenerationResult, error) {
	attempt := &models.QueryAttempt{
		ID:                   uuid.New(),
		UserID:               userID,
		NaturalLanguageQuery: question,
		Status:               models.StatusPending,
		CreatedAt:            time.Now().UTC(),
	}
	var history []prompts.ConversationTurn
	if originalAttemptID != uuid.Nil {
		// Lineage check: a retry must reference an attempt that exists.
		original, err := s.attempts.GetByID(ctx, originalAttemptID)
		if err != nil {
			return nil, err
		}
		attempt.OriginalAttemptID = &originalAttemptID
		history = s.lineageHistory(ctx, original)
	}

	if err := s.attempts.Create(ctx, attempt); err != nil {
		return nil, err
	}

	s.logger.Info("Generation started",
		zap.String("attempt_id", attempt.ID.String()),
		zap.String("user_id", userID),
	)

	start := time.Now()
	result, err := s.runPipeline(ctx, attempt, question, history)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	ms := elapsed.Milliseconds()
	attempt.GeneratedAt = &now
	attempt.GenerationMs = &ms

	if err != nil {
		attempt.Status = models.StatusFailedGeneration
		msg := errorMessageFor(err)
		attempt.ErrorMessage = &msg
		if updateErr := s.attempts.Update(ctx, attempt); updateErr != nil {
			s.logger.Error("Failed to record generation failure", zap.Error(updateErr))
		}
		return nil, err
	}

	if updateErr := s.attempts.Update(ctx, attempt); updateErr != nil {
		return nil, fmt.Errorf("failed to persist attempt: %w", updateErr)
	}

	s.logger.Info("Generation finished",
		zap.String("attempt_id", attempt.ID.String()),
		zap.String("status", string(attempt.Status)),
		zap.Bool("short_circuited", result.ShortCircuited),
		zap.Duration("duration", elapsed),
	)

	result.Attempt = attempt
	return result, nil
}

// runPipeline mutates attempt with the pipeline outcome and returns the
// result skeleton. A returned error means failed_generation.
func (s *queryService) runPipeline(ctx context.Context, attempt *models.QueryAttempt, question string, history []prompts.ConversationTurn) (*GenerationResult, error) {
	selectedTables, err := s.selector.SelectTables(ctx, question, history)
	if err != nil {
		return nil, err
	}

	filtered, err := s.catalog.FilterByTables(selectedTables)
	if err != nil {
		return nil, err
	}
	schemaText := s.catalog.FormatForLLM(filtered, DefaultFormatOptions())

	topExamples, maxSimilarity := s.retrieveExamples(ctx, question)

	result := &GenerationResult{
		SelectedTables: selectedTables,
		MaxSimilarity:  maxSimilarity,
	}

	// A near-identical curated example answers the question directly;
	// skip synthesis entirely.
	if maxSimilarity >= s.similarityThreshold && len(topExamples) > 0 {
		best := topExamples[0]
		s.logger.Info("Short-circuit: knowledge base match",
			zap.String("example", best.Filename),
			zap.Float64("similarity", maxSimilarity),
		)
		sql := best.SQL
		attempt.GeneratedSQL = &sql
		attempt.Status = models.StatusNotExecuted
		result.ShortCircuited = true
		return result, nil
	}

	exampleTexts := make([]string, len(topExamples))
	for i, ex := range topExamples {
		exampleTexts[i] = ex.SQL
	}

	outcome, err := s.synthesizer.Synthesize(ctx, question, schemaText, exampleTexts, selectedTables, history)
	if err != nil {
		return nil, err
	}

	switch outcome.Kind {
	case OutcomeSQL:
		sql := outcome.SQL
		attempt.GeneratedSQL = &sql
		attempt.Status = models.StatusNotExecuted
	case OutcomeClarification:
		attempt.Status = models.StatusFailedGeneration
		msg := outcome.Clarification
		attempt.ErrorMessage = &msg
		result.Clarification = outcome.Clarification
	case OutcomeFailure:
		return nil, fmt.Errorf("%s: %w", outcome.FailureReason, apperrors.ErrLLMUnavailable)
	}

	return result, nil
}

// lineageHistory walks the retry chain and rebuilds it as conversation
// turns, oldest first. Bounded so a long chain cannot bloat the prompt.
func (s *queryService) lineageHistory(ctx context.Context, latest *models.QueryAttempt) []prompts.ConversationTurn {
	const maxTurns = 3

	var turns []prompts.ConversationTurn
	for current := latest; current != nil && len(turns) < maxTurns; {
		turn := prompts.ConversationTurn{Question: current.NaturalLanguageQuery}
		switch {
		case current.ErrorMessage != nil:
			turn.Response = *current.ErrorMessage
		case current.GeneratedSQL != nil:
			turn.Response = *current.GeneratedSQL
		}
		turns = append(turns, turn)

		if current.OriginalAttemptID == nil {
			break
		}
		parent, err := s.attempts.GetByID(ctx, *current.OriginalAttemptID)
		if err != nil {
			s.logger.Warn("Failed to walk retry lineage", zap.Error(err))
			break
		}
		current = parent
	}

	// Collected newest-first; the transcript reads oldest-first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns
}

// retrieveExamples embeds the question and ranks the knowledge base.
// Retrieval is best-effort: an embedding or store failure degrades to
// zero examples rather than failing the attempt.
func (s *queryService) retrieveExamples(ctx context.Context, question string) ([]*models.Example, float64) {
	embedding, err := s.embedder.CreateEmbedding(ctx, question)
	if err != nil {
		s.logger.Warn("Question embedding failed, skipping example retrieval",
			zap.String("error", logging.SanitizeError(err)))
		embedding = nil
	}

	topExamples, maxSimilarity, err := s.examples.FindSimilar(embedding, s.topK)
	if err != nil {
		s.logger.Warn("Example retrieval failed", zap.Error(err))
		return nil, 0
	}

	return topExamples, maxSimilarity
}

func (s *queryService) GetAttempt(ctx context.Context, id uuid.UUID) (*models.QueryAttempt, error) {
	return s.attempts.GetByID(ctx, id)
}

func (s *queryService) ListAttempts(ctx context.Context, userID string, limit int) ([]*models.QueryAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.attempts.ListByUser(ctx, userID, limit)
}

// errorMessageFor prefers user-facing guidance over raw error text.
func errorMessageFor(err error) string {
	var genErr *apperrors.GenerationError
	if errors.As(err, &genErr) {
		return genErr.Guidance
	}
	return logging.SanitizeError(err)
}
