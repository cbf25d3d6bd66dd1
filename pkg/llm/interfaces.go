// Package llm provides chat-completion and embedding clients for
// OpenAI-compatible and Anthropic endpoints.
package llm

import (
	"context"
)

// LLMClient defines the interface for chat-completion operations.
// Both pipeline stages consume this interface so tests can inject mocks.
type LLMClient interface {
	// GenerateResponse generates a chat completion and returns the first
	// choice's message content as plain text. Responses are always parsed
	// as loosely-structured text downstream, never as JSON.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, maxTokens int, temperature float64) (string, error)

	// GetModel returns the configured model name.
	GetModel() string
}

// Embedder defines the interface for embedding operations. Embeddings
// always route through an OpenAI-compatible endpoint, independent of the
// chat provider.
type Embedder interface {
	// CreateEmbedding generates an embedding vector for the input text.
	CreateEmbedding(ctx context.Context, input string) ([]float32, error)

	// CreateEmbeddings generates embeddings for multiple inputs in one call.
	CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)
}
