package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fleetsense/fleetsense-engine/pkg/llm"
	"github.com/fleetsense/fleetsense-engine/pkg/models"
)

// IndexStats reports one embedding generation run.
type IndexStats struct {
	TotalExamples       int `json:"total_examples"`
	EmbeddingsGenerated int `json:"embeddings_generated"`
	EmbeddingsSkipped   int `json:"embeddings_skipped"`
	EmbeddingsAvailable int `json:"embeddings_available"`
}

// EmbeddingIndexer generates and persists embeddings for the knowledge
// base. Used by the admin surface and the offline CLI.
type EmbeddingIndexer interface {
	// GenerateEmbeddings embeds examples that lack a vector (all of
	// them when force is set) and saves the side-store.
	GenerateEmbeddings(ctx context.Context, force bool) (*IndexStats, error)
}

type embeddingIndexer struct {
	store    ExampleStore
	embedder llm.Embedder
	logger   *zap.Logger
}

// NewEmbeddingIndexer creates an EmbeddingIndexer.
func NewEmbeddingIndexer(store ExampleStore, embedder llm.Embedder, logger *zap.Logger) EmbeddingIndexer {
	return &embeddingIndexer{
		store:    store,
		embedder: embedder,
		logger:   logger.Named("embedding_indexer"),
	}
}

var _ EmbeddingIndexer = (*embeddingIndexer)(nil)

func (x *embeddingIndexer) GenerateEmbeddings(ctx context.Context, force bool) (*IndexStats, error) {
	examples, err := x.store.Examples()
	if err != nil {
		return nil, err
	}

	var pending []*models.Example
	skipped := 0
	for _, ex := range examples {
		if ex.Embedding != nil && !force {
			skipped++
			continue
		}
		pending = append(pending, ex)
	}

	stats := &IndexStats{
		TotalExamples:     len(examples),
		EmbeddingsSkipped: skipped,
	}

	if len(pending) > 0 {
		inputs := make([]string, len(pending))
		for i, ex := range pending {
			inputs[i] = embeddingText(ex)
		}

		vectors, err := x.embedder.CreateEmbeddings(ctx, inputs)
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(vectors) != len(pending) {
			return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(pending))
		}

		for i, ex := range pending {
			ex.Embedding = vectors[i]
			stats.EmbeddingsGenerated++
		}

		if err := x.store.SaveEmbeddings(); err != nil {
			return nil, err
		}
	}

	for _, ex := range examples {
		if ex.Embedding != nil {
			stats.EmbeddingsAvailable++
		}
	}

	x.logger.Info("Embedding generation complete",
		zap.Int("generated", stats.EmbeddingsGenerated),
		zap.Int("skipped", stats.EmbeddingsSkipped),
		zap.Int("available", stats.EmbeddingsAvailable),
	)

	return stats, nil
}

// embeddingText is what gets embedded for one example: title,
// description and SQL together, matching how questions are matched at
// query time.
func embeddingText(ex *models.Example) string {
	return fmt.Sprintf("%s\n%s\n%s", ex.Title, ex.Description, ex.SQL)
}
