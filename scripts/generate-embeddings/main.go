// Command generate-embeddings embeds the knowledge base examples and
// persists the vectors to the embeddings side-store. Run it after
// adding or editing example .sql files.
package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/fleetsense/fleetsense-engine/pkg/config"
	"github.com/fleetsense/fleetsense-engine/pkg/llm"
	"github.com/fleetsense/fleetsense-engine/pkg/services"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		force      = flag.Bool("force", false, "regenerate embeddings that already exist")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath, "dev")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logConfig := zap.NewDevelopmentConfig()
	logger, err := logConfig.Build()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	embedder, err := llm.NewClient(&llm.Config{
		Endpoint:       cfg.LLM.Endpoint,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		APIKey:         cfg.LLM.APIKey,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create embedding client", zap.Error(err))
	}

	store := services.NewExampleStore(cfg.RAG.KnowledgeDir, cfg.RAG.EmbeddingsFile, logger)
	indexer := services.NewEmbeddingIndexer(store, embedder, logger)

	stats, err := indexer.GenerateEmbeddings(context.Background(), *force)
	if err != nil {
		logger.Fatal("Embedding generation failed", zap.Error(err))
	}

	logger.Info("Embedding generation complete",
		zap.Int("total_examples", stats.TotalExamples),
		zap.Int("generated", stats.EmbeddingsGenerated),
		zap.Int("skipped", stats.EmbeddingsSkipped),
		zap.Int("available", stats.EmbeddingsAvailable),
	)
}
