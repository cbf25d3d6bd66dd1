package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetsense/fleetsense-engine/pkg/apperrors"
	"github.com/fleetsense/fleetsense-engine/pkg/llm"
	"github.com/fleetsense/fleetsense-engine/pkg/retry"
)

func fastRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func newTestSelector(t *testing.T, client llm.LLMClient, maxTables int) *tableSelector {
	t.Helper()
	catalog := NewSchemaCatalog(writeSchemaFile(t, testSchemaJSON), zap.NewNop())
	return &tableSelector{
		catalog:   catalog,
		client:    client,
		retryCfg:  fastRetryConfig(),
		maxTables: maxTables,
		logger:    zap.NewNop(),
	}
}

func TestTableSelector_SelectsTables(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, maxTokens int, temperature float64) (string, error) {
		assert.Contains(t, prompt, "- trips")
		assert.Contains(t, prompt, "- vehicles")
		assert.Equal(t, 500, maxTokens)
		assert.Equal(t, 0.0, temperature)
		return "trips, vehicles", nil
	}

	selector := newTestSelector(t, client, 10)
	tables, err := selector.SelectTables(context.Background(), "Which vehicles had trips today?", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"trips", "vehicles"}, tables)
	assert.Equal(t, 1, client.GenerateResponseCalls)
}

func TestTableSelector_RetriesTransientLLMErrors(t *testing.T) {
	client := llm.NewMockLLMClient()
	calls := 0
	client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, maxTokens int, temperature float64) (string, error) {
		calls++
		if calls < 3 {
			return "", &llm.Error{Type: llm.ErrorTypeRateLimit, Message: "rate limit", Retryable: true}
		}
		return "vehicles", nil
	}

	selector := newTestSelector(t, client, 10)
	tables, err := selector.SelectTables(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"vehicles"}, tables)
	assert.Equal(t, 3, calls)
}

func TestTableSelector_RetriesUnparsableResponses(t *testing.T) {
	client := llm.NewMockLLMClient()
	calls := 0
	client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, maxTokens int, temperature float64) (string, error) {
		calls++
		if calls < 2 {
			return "I'm not sure which tables you mean.", nil
		}
		return "trips", nil
	}

	selector := newTestSelector(t, client, 10)
	tables, err := selector.SelectTables(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"trips"}, tables)
	assert.Equal(t, 2, calls)
}

func TestTableSelector_GuidanceAfterExhaustedRetries(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, maxTokens int, temperature float64) (string, error) {
		return "no tables here", nil
	}

	selector := newTestSelector(t, client, 10)
	_, err := selector.SelectTables(context.Background(), "gibberish", nil)
	require.Error(t, err)

	assert.ErrorIs(t, err, apperrors.ErrGenerationInvalid)
	var genErr *apperrors.GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Contains(t, genErr.Guidance, "rephrasing")
	assert.Contains(t, genErr.Guidance, "for example")
	assert.Equal(t, 3, client.GenerateResponseCalls)
}

func TestTableSelector_AbortsOnPermanentLLMError(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, maxTokens int, temperature float64) (string, error) {
		return "", &llm.Error{Type: llm.ErrorTypeAuth, Message: "invalid api key", Retryable: false}
	}

	selector := newTestSelector(t, client, 10)
	_, err := selector.SelectTables(context.Background(), "q", nil)
	require.Error(t, err)
	assert.Equal(t, 1, client.GenerateResponseCalls)
}

func TestTableSelector_CapsAtMaxTables(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, maxTokens int, temperature float64) (string, error) {
		return "trips, vehicles", nil
	}

	selector := newTestSelector(t, client, 1)
	tables, err := selector.SelectTables(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"trips"}, tables)
}
