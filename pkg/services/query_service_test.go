package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetsense/fleetsense-engine/pkg/apperrors"
	"github.com/fleetsense/fleetsense-engine/pkg/llm"
	"github.com/fleetsense/fleetsense-engine/pkg/models"
	"github.com/fleetsense/fleetsense-engine/pkg/prompts"
	"github.com/fleetsense/fleetsense-engine/pkg/repositories"
)

// stubSelector and stubSynthesizer let orchestrator tests script each
// stage directly.
type stubSelector struct {
	tables     []string
	err        error
	calls      int
	gotHistory []prompts.ConversationTurn
}

func (s *stubSelector) SelectTables(ctx context.Context, question string, history []prompts.ConversationTurn) ([]string, error) {
	s.calls++
	s.gotHistory = history
	return s.tables, s.err
}

type stubSynthesizer struct {
	outcome *SynthesisOutcome
	err     error
	calls   int
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, question, schemaText string, examples []string, selectedTables []string, history []prompts.ConversationTurn) (*SynthesisOutcome, error) {
	s.calls++
	return s.outcome, s.err
}

type queryFixture struct {
	svc         QueryService
	attempts    *repositories.MockAttemptRepository
	selector    *stubSelector
	synthesizer *stubSynthesizer
	embedder    *llm.MockEmbedder
}

func newQueryFixture(t *testing.T, exampleFiles map[string]string, embeddings map[string][]float32) *queryFixture {
	t.Helper()

	catalog := NewSchemaCatalog(writeSchemaFile(t, testSchemaJSON), zap.NewNop())

	dir, embFile := writeExampleDir(t, exampleFiles)
	store := NewExampleStore(dir, embFile, zap.NewNop())
	if embeddings != nil {
		examples, err := store.Examples()
		require.NoError(t, err)
		for _, ex := range examples {
			ex.Embedding = embeddings[ex.Filename]
		}
	}

	attempts := repositories.NewMockAttemptRepository()
	selector := &stubSelector{tables: []string{"vehicles"}}
	synthesizer := &stubSynthesizer{outcome: &SynthesisOutcome{Kind: OutcomeSQL, SQL: "SELECT 1;"}}
	embedder := llm.NewMockEmbedder()

	svc := NewQueryService(attempts, catalog, store, selector, synthesizer, embedder, 0.85, 3, zap.NewNop())

	return &queryFixture{
		svc:         svc,
		attempts:    attempts,
		selector:    selector,
		synthesizer: synthesizer,
		embedder:    embedder,
	}
}

func TestGenerate_HappyPath(t *testing.T) {
	f := newQueryFixture(t, map[string]string{"a.sql": "SELECT * FROM vehicles;"}, nil)
	f.synthesizer.outcome = &SynthesisOutcome{Kind: OutcomeSQL, SQL: "SELECT id, plate FROM vehicles WHERE active = true;"}

	result, err := f.svc.Generate(context.Background(), "user-1", "Show me all active vehicles", uuid.Nil)
	require.NoError(t, err)

	attempt := result.Attempt
	assert.Equal(t, models.StatusNotExecuted, attempt.Status)
	require.NotNil(t, attempt.GeneratedSQL)
	assert.Equal(t, "SELECT id, plate FROM vehicles WHERE active = true;", *attempt.GeneratedSQL)
	assert.NotNil(t, attempt.GeneratedAt)
	assert.NotNil(t, attempt.GenerationMs)
	assert.Equal(t, []string{"vehicles"}, result.SelectedTables)
	assert.False(t, result.ShortCircuited)

	stored := f.attempts.Stored(attempt.ID)
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusNotExecuted, stored.Status)
}

func TestGenerate_ShortCircuitSkipsSynthesis(t *testing.T) {
	f := newQueryFixture(t,
		map[string]string{"exact.sql": "SELECT * FROM vehicles WHERE active = true;"},
		map[string][]float32{"exact.sql": {1, 0}},
	)
	f.embedder.CreateEmbeddingFunc = func(ctx context.Context, input string) ([]float32, error) {
		return []float32{1, 0}, nil
	}

	result, err := f.svc.Generate(context.Background(), "user-1", "Show me all active vehicles", uuid.Nil)
	require.NoError(t, err)

	assert.True(t, result.ShortCircuited)
	assert.InDelta(t, 1.0, result.MaxSimilarity, 1e-9)
	assert.Equal(t, "SELECT * FROM vehicles WHERE active = true;", *result.Attempt.GeneratedSQL)
	assert.Equal(t, models.StatusNotExecuted, result.Attempt.Status)

	// The synthesizer was never consulted.
	assert.Equal(t, 0, f.synthesizer.calls)
}

func TestGenerate_BelowThresholdStillSynthesizes(t *testing.T) {
	f := newQueryFixture(t,
		map[string]string{"far.sql": "SELECT * FROM trips;"},
		map[string][]float32{"far.sql": {0, 1}},
	)
	f.embedder.CreateEmbeddingFunc = func(ctx context.Context, input string) ([]float32, error) {
		return []float32{1, 0}, nil
	}

	result, err := f.svc.Generate(context.Background(), "user-1", "q", uuid.Nil)
	require.NoError(t, err)
	assert.False(t, result.ShortCircuited)
	assert.Equal(t, 1, f.synthesizer.calls)
}

func TestGenerate_ClarificationOutcome(t *testing.T) {
	f := newQueryFixture(t, map[string]string{"a.sql": "SELECT 1;"}, nil)
	f.synthesizer.outcome = &SynthesisOutcome{
		Kind:          OutcomeClarification,
		Clarification: "Which time range do you mean?",
	}

	result, err := f.svc.Generate(context.Background(), "user-1", "show stuff", uuid.Nil)
	require.NoError(t, err)

	assert.Equal(t, "Which time range do you mean?", result.Clarification)
	assert.Equal(t, models.StatusFailedGeneration, result.Attempt.Status)
	assert.Nil(t, result.Attempt.GeneratedSQL)
	require.NotNil(t, result.Attempt.ErrorMessage)
	assert.Equal(t, "Which time range do you mean?", *result.Attempt.ErrorMessage)
}

func TestGenerate_SelectorFailureRecordsGuidance(t *testing.T) {
	f := newQueryFixture(t, map[string]string{"a.sql": "SELECT 1;"}, nil)
	f.selector.tables = nil
	f.selector.err = apperrors.NewGenerationError("Try rephrasing with specific entities.")

	_, err := f.svc.Generate(context.Background(), "user-1", "gibberish", uuid.Nil)
	require.ErrorIs(t, err, apperrors.ErrGenerationInvalid)

	// The attempt was still persisted with the guidance message.
	attempts, listErr := f.svc.ListAttempts(context.Background(), "user-1", 10)
	require.NoError(t, listErr)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.StatusFailedGeneration, attempts[0].Status)
	require.NotNil(t, attempts[0].ErrorMessage)
	assert.Equal(t, "Try rephrasing with specific entities.", *attempts[0].ErrorMessage)
}

func TestGenerate_SynthesisFailure(t *testing.T) {
	f := newQueryFixture(t, map[string]string{"a.sql": "SELECT 1;"}, nil)
	f.synthesizer.outcome = &SynthesisOutcome{Kind: OutcomeFailure, FailureReason: "language model unavailable"}
	f.synthesizer.err = nil

	_, err := f.svc.Generate(context.Background(), "user-1", "q", uuid.Nil)
	require.ErrorIs(t, err, apperrors.ErrLLMUnavailable)

	attempts, listErr := f.svc.ListAttempts(context.Background(), "user-1", 10)
	require.NoError(t, listErr)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.StatusFailedGeneration, attempts[0].Status)
}

func TestGenerate_EmbeddingFailureDegradesGracefully(t *testing.T) {
	f := newQueryFixture(t, map[string]string{"a.sql": "SELECT 1;"}, nil)
	f.embedder.CreateEmbeddingFunc = func(ctx context.Context, input string) ([]float32, error) {
		return nil, &llm.Error{Type: llm.ErrorTypeEndpoint, Message: "down", Retryable: true}
	}

	result, err := f.svc.Generate(context.Background(), "user-1", "q", uuid.Nil)
	require.NoError(t, err)
	assert.False(t, result.ShortCircuited)
	assert.Equal(t, models.StatusNotExecuted, result.Attempt.Status)
}

func TestGenerate_RetryLineage(t *testing.T) {
	f := newQueryFixture(t, map[string]string{"a.sql": "SELECT 1;"}, nil)

	first, err := f.svc.Generate(context.Background(), "user-1", "first question", uuid.Nil)
	require.NoError(t, err)

	second, err := f.svc.Generate(context.Background(), "user-1", "rephrased question", first.Attempt.ID)
	require.NoError(t, err)

	require.NotNil(t, second.Attempt.OriginalAttemptID)
	assert.Equal(t, first.Attempt.ID, *second.Attempt.OriginalAttemptID)
}

func TestGenerate_RetryUnknownOriginal(t *testing.T) {
	f := newQueryFixture(t, map[string]string{"a.sql": "SELECT 1;"}, nil)

	_, err := f.svc.Generate(context.Background(), "user-1", "q", uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGenerate_RetryCarriesConversationHistory(t *testing.T) {
	f := newQueryFixture(t, map[string]string{"a.sql": "SELECT 1;"}, nil)

	f.synthesizer.outcome = &SynthesisOutcome{
		Kind:          OutcomeClarification,
		Clarification: "Which records do you mean: vehicles or trips?",
	}
	first, err := f.svc.Generate(context.Background(), "user-1", "show me the stuff", uuid.Nil)
	require.NoError(t, err)
	require.NotEmpty(t, first.Clarification)

	f.synthesizer.outcome = &SynthesisOutcome{Kind: OutcomeSQL, SQL: "SELECT * FROM trips;"}
	_, err = f.svc.Generate(context.Background(), "user-1", "the trips from last week", first.Attempt.ID)
	require.NoError(t, err)

	require.Len(t, f.selector.gotHistory, 1)
	assert.Equal(t, "show me the stuff", f.selector.gotHistory[0].Question)
	assert.Equal(t, "Which records do you mean: vehicles or trips?", f.selector.gotHistory[0].Response)
}
