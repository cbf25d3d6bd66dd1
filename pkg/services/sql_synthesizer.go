package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/fleetsense/fleetsense-engine/pkg/llm"
	"github.com/fleetsense/fleetsense-engine/pkg/prompts"
	"github.com/fleetsense/fleetsense-engine/pkg/retry"
	enginesql "github.com/fleetsense/fleetsense-engine/pkg/sql"
)

// OutcomeKind discriminates synthesis results.
type OutcomeKind int

const (
	// OutcomeSQL means a validated SQL statement was produced.
	OutcomeSQL OutcomeKind = iota
	// OutcomeClarification means the question was too ambiguous and a
	// clarifying question was produced instead.
	OutcomeClarification
	// OutcomeFailure means generation failed entirely.
	OutcomeFailure
)

// SynthesisOutcome is the tagged result of stage 2. Exactly one of SQL,
// Clarification or FailureReason is populated, per Kind.
type SynthesisOutcome struct {
	Kind          OutcomeKind
	SQL           string
	Clarification string
	FailureReason string
}

// SQLSynthesizer runs stage 2: generating a SQL statement from the
// filtered schema, retrieved examples and the question.
type SQLSynthesizer interface {
	Synthesize(ctx context.Context, question, schemaText string, examples []string, selectedTables []string, history []prompts.ConversationTurn) (*SynthesisOutcome, error)
}

type sqlSynthesizer struct {
	client      llm.LLMClient
	retryCfg    retry.Config
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

// NewSQLSynthesizer creates a stage 2 synthesizer using the configured
// generation token budget and temperature.
func NewSQLSynthesizer(client llm.LLMClient, maxTokens int, temperature float64, logger *zap.Logger) SQLSynthesizer {
	return &sqlSynthesizer{
		client:      client,
		retryCfg:    retry.DefaultConfig(),
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger.Named("sql_synthesizer"),
	}
}

var _ SQLSynthesizer = (*sqlSynthesizer)(nil)

// fallbackClarification is used when the clarifying-question call itself
// fails. The user still gets something actionable.
const fallbackClarification = "I could not translate your question into a database query. Could you rephrase it with the specific records, fields or time range you are interested in?"

func (s *sqlSynthesizer) Synthesize(ctx context.Context, question, schemaText string, examples []string, selectedTables []string, history []prompts.ConversationTurn) (*SynthesisOutcome, error) {
	prompt := prompts.BuildSQLGenerationPrompt(question, schemaText, examples, history)

	s.logger.Info("Stage 2: generating SQL",
		zap.Int("examples", len(examples)),
		zap.String("model", s.client.GetModel()),
	)

	response, err := retry.DoWithResult(ctx, s.retryCfg, func(ctx context.Context) (string, error) {
		return s.client.GenerateResponse(ctx, prompt,
			prompts.SQLGenerationSystemMessage, s.maxTokens, s.temperature)
	})
	if err != nil {
		s.logger.Error("SQL generation failed", zap.Error(err))
		return &SynthesisOutcome{
			Kind:          OutcomeFailure,
			FailureReason: fmt.Sprintf("language model unavailable: %v", err),
		}, err
	}

	generatedSQL, extractErr := ExtractSQL(response)
	if extractErr == nil {
		s.logger.Info("Stage 2 complete", zap.Int("sql_length", len(generatedSQL)))
		return &SynthesisOutcome{Kind: OutcomeSQL, SQL: generatedSQL}, nil
	}

	// The model answered with prose, a refusal or unsafe SQL. Turn that
	// into a clarifying question rather than surfacing a raw error.
	s.logger.Warn("Response did not contain usable SQL", zap.Error(extractErr))

	// When the model already asked its own clarifying question, pass it
	// through instead of spending another call to generate one.
	if clarification, ok := clarifyingQuestionIn(response); ok {
		return &SynthesisOutcome{Kind: OutcomeClarification, Clarification: clarification}, nil
	}

	clarification := s.generateClarifyingQuestion(ctx, question, selectedTables, extractErr.Error())
	return &SynthesisOutcome{Kind: OutcomeClarification, Clarification: clarification}, nil
}

// clarifyingQuestionIn reports whether a non-SQL response is itself a
// question back to the user, and returns it cleaned up if so.
func clarifyingQuestionIn(response string) (string, bool) {
	cleaned := strings.TrimSpace(strings.Trim(strings.TrimSpace(response), `"`))
	if cleaned == "" || len(cleaned) > 500 {
		return "", false
	}

	if strings.Contains(cleaned, "?") {
		return cleaned, true
	}

	lower := strings.ToLower(cleaned)
	clarifyingPhrases := []string{
		"could you clarify",
		"could you specify",
		"can you clarify",
		"please clarify",
		"please specify",
		"do you mean",
		"more information",
		"more specific",
	}
	for _, phrase := range clarifyingPhrases {
		if strings.Contains(lower, phrase) {
			return cleaned, true
		}
	}
	return "", false
}

func (s *sqlSynthesizer) generateClarifyingQuestion(ctx context.Context, question string, selectedTables []string, failureReason string) string {
	prompt := prompts.BuildClarificationPrompt(question, entityHints(selectedTables), failureReason)

	response, err := retry.DoWithResult(ctx, s.retryCfg, func(ctx context.Context) (string, error) {
		return s.client.GenerateResponse(ctx, prompt,
			prompts.ClarificationSystemMessage, 200, 0.3)
	})
	if err != nil {
		s.logger.Warn("Clarifying question generation failed, using fallback", zap.Error(err))
		return fallbackClarification
	}

	clarification := strings.TrimSpace(strings.Trim(strings.TrimSpace(response), `"`))
	if clarification == "" {
		return fallbackClarification
	}
	return clarification
}

// entityHints turns table names into singular entity types for the
// clarification prompt: "fleet_vehicles" becomes "fleet vehicle".
func entityHints(tableNames []string) []string {
	seen := make(map[string]bool)
	var hints []string
	for _, name := range tableNames {
		hint := inflection.Singular(strings.ReplaceAll(name, "_", " "))
		if hint != "" && !seen[hint] {
			seen[hint] = true
			hints = append(hints, hint)
		}
	}
	return hints
}

// ExtractSQL pulls a validated SQL statement out of a raw model
// response. It strips markdown fences, normalizes the trailing
// semicolon, and then applies the same checks the execution guard uses:
// the statement must be a single SELECT/WITH query with no DDL/DML
// keywords in statement position and no injection-flagged literals.
func ExtractSQL(response string) (string, error) {
	cleaned := strings.TrimSpace(response)
	if cleaned == "" {
		return "", fmt.Errorf("response is empty")
	}

	if idx := strings.Index(strings.ToLower(cleaned), "```sql"); idx >= 0 {
		rest := cleaned[idx+len("```sql"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			cleaned = strings.TrimSpace(rest[:end])
		} else {
			cleaned = strings.TrimSpace(rest)
		}
	} else if strings.Contains(cleaned, "```") {
		parts := strings.Split(cleaned, "```")
		if len(parts) >= 2 {
			cleaned = strings.TrimSpace(parts[1])
		}
	}

	// Unfenced responses sometimes open with prose before the query.
	// Scan for the first line that starts a SELECT/WITH statement and
	// extract from there.
	if !enginesql.IsSelectStatement(cleaned) {
		if idx := firstStatementOffset(cleaned); idx >= 0 {
			cleaned = strings.TrimSpace(cleaned[idx:])
		}
	}

	if !strings.HasSuffix(cleaned, ";") {
		cleaned += ";"
	}

	if !enginesql.IsSelectStatement(cleaned) {
		return "", fmt.Errorf("response is not a SELECT statement: %s", truncateForError(cleaned))
	}

	if keyword, found := enginesql.ContainsDangerousKeyword(cleaned); found {
		return "", fmt.Errorf("generated query contains forbidden operation: %s", keyword)
	}

	if err := enginesql.CheckLiteralsForInjection(cleaned); err != nil {
		return "", fmt.Errorf("generated query failed injection scan: %w", err)
	}

	return cleaned, nil
}

// firstStatementOffset returns the byte offset of the first line that
// begins with SELECT or WITH, or -1 if no line does.
func firstStatementOffset(text string) int {
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.ToUpper(strings.TrimSpace(line))
		if strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "WITH") {
			return offset + len(line) - len(strings.TrimLeft(line, " \t"))
		}
		offset += len(line)
	}
	return -1
}
