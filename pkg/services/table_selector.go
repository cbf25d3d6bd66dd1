package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fleetsense/fleetsense-engine/pkg/apperrors"
	"github.com/fleetsense/fleetsense-engine/pkg/llm"
	"github.com/fleetsense/fleetsense-engine/pkg/prompts"
	"github.com/fleetsense/fleetsense-engine/pkg/retry"
)

// Table selection responses are short lists of names, so the token
// budget is small and temperature is pinned to zero for determinism.
const (
	tableSelectionMaxTokens   = 500
	tableSelectionTemperature = 0.0
)

// TableSelector runs stage 1 of the pipeline: narrowing the full
// catalog down to the tables relevant to one question.
type TableSelector interface {
	SelectTables(ctx context.Context, question string, history []prompts.ConversationTurn) ([]string, error)
}

type tableSelector struct {
	catalog   SchemaCatalog
	client    llm.LLMClient
	retryCfg  retry.Config
	maxTables int
	logger    *zap.Logger
}

// NewTableSelector creates a stage 1 selector.
func NewTableSelector(catalog SchemaCatalog, client llm.LLMClient, maxTables int, logger *zap.Logger) TableSelector {
	return &tableSelector{
		catalog:   catalog,
		client:    client,
		retryCfg:  retry.DefaultConfig(),
		maxTables: maxTables,
		logger:    logger.Named("table_selector"),
	}
}

var _ TableSelector = (*tableSelector)(nil)

// unparsableResponseError marks a response that produced no valid table
// names. It is retryable: asking again usually yields a cleaner list.
type unparsableResponseError struct {
	cause error
}

func (e *unparsableResponseError) Error() string     { return e.cause.Error() }
func (e *unparsableResponseError) Unwrap() error     { return e.cause }
func (e *unparsableResponseError) IsRetryable() bool { return true }

func (s *tableSelector) SelectTables(ctx context.Context, question string, history []prompts.ConversationTurn) ([]string, error) {
	tableNames, err := s.catalog.TableNames()
	if err != nil {
		return nil, fmt.Errorf("failed to load table names: %w", err)
	}

	prompt := prompts.BuildTableSelectionPrompt(tableNames, question, s.maxTables, history)

	s.logger.Info("Stage 1: selecting tables",
		zap.Int("catalog_size", len(tableNames)),
		zap.String("model", s.client.GetModel()),
	)

	selected, err := retry.DoWithResult(ctx, s.retryCfg, func(ctx context.Context) ([]string, error) {
		response, err := s.client.GenerateResponse(ctx, prompt,
			prompts.TableSelectionSystemMessage, tableSelectionMaxTokens, tableSelectionTemperature)
		if err != nil {
			return nil, err
		}

		names, err := ParseTableNames(response, tableNames)
		if err != nil {
			s.logger.Warn("Unparsable table selection response", zap.Error(err))
			return nil, &unparsableResponseError{cause: err}
		}
		return names, nil
	})
	if err != nil {
		var unparsable *unparsableResponseError
		if errors.As(err, &unparsable) {
			return nil, apperrors.NewGenerationError(
				"I could not determine which data your question refers to. " +
					"Try rephrasing with specific entities, for example: " +
					`"Show me all vehicles serviced this month" or ` +
					`"Which drivers logged the most trips last week?"`)
		}
		return nil, fmt.Errorf("table selection failed: %w", err)
	}

	if len(selected) > s.maxTables {
		selected = selected[:s.maxTables]
	}

	s.logger.Info("Stage 1 complete", zap.Strings("tables", selected))
	return selected, nil
}
