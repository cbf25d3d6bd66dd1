package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fleetsense/fleetsense-engine/pkg/adapters/datasource/postgres"
	"github.com/fleetsense/fleetsense-engine/pkg/config"
	"github.com/fleetsense/fleetsense-engine/pkg/database"
	"github.com/fleetsense/fleetsense-engine/pkg/handlers"
	"github.com/fleetsense/fleetsense-engine/pkg/llm"
	"github.com/fleetsense/fleetsense-engine/pkg/logging"
	"github.com/fleetsense/fleetsense-engine/pkg/middleware"
	"github.com/fleetsense/fleetsense-engine/pkg/repositories"
	"github.com/fleetsense/fleetsense-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load("config.yaml", Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
		zap.String("warehouse", logging.SanitizeConnectionString(cfg.Warehouse.URL)),
		zap.String("llm_provider", cfg.LLM.Provider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Engine store: query attempts and result manifests.
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.RunMigrations(db.StdDB(), cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Warehouse: read-only pool the generated SQL executes against.
	executor, err := postgres.NewExecutor(ctx, &postgres.Config{
		URL:          cfg.Warehouse.URL,
		Timeout:      time.Duration(cfg.Warehouse.TimeoutSeconds) * time.Second,
		PoolMaxConns: cfg.Warehouse.PoolMaxConns,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to warehouse", zap.Error(err))
	}
	defer executor.Close()

	openaiClient, err := llm.NewClient(&llm.Config{
		Endpoint:       cfg.LLM.Endpoint,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		APIKey:         cfg.LLM.APIKey,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create LLM client", zap.Error(err))
	}

	// Chat completions follow the configured provider; embeddings always
	// route through the OpenAI-compatible endpoint.
	var chatClient llm.LLMClient = openaiClient
	if cfg.LLM.Provider == "anthropic" {
		chatClient, err = llm.NewAnthropicClient(&llm.AnthropicConfig{
			APIKey: cfg.LLM.AnthropicAPIKey,
			Model:  cfg.LLM.AnthropicModel,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create Anthropic client", zap.Error(err))
		}
	}

	attempts := repositories.NewAttemptRepository(db)
	manifests := repositories.NewManifestRepository(db)

	catalog := services.NewSchemaCatalog(cfg.Generation.SchemaFile, logger)
	if _, err := catalog.Schema(); err != nil {
		logger.Fatal("Failed to load schema dump", zap.Error(err))
	}

	examples := services.NewExampleStore(cfg.RAG.KnowledgeDir, cfg.RAG.EmbeddingsFile, logger)
	if _, err := examples.Examples(); err != nil {
		logger.Fatal("Failed to load knowledge base", zap.Error(err))
	}

	selector := services.NewTableSelector(catalog, chatClient, cfg.Generation.MaxTables, logger)
	synthesizer := services.NewSQLSynthesizer(chatClient, cfg.LLM.MaxTokens, cfg.LLM.Temperature, logger)
	indexer := services.NewEmbeddingIndexer(examples, openaiClient, logger)

	queryService := services.NewQueryService(
		attempts, catalog, examples, selector, synthesizer, openaiClient,
		cfg.RAG.SimilarityThreshold, cfg.RAG.TopK, logger,
	)
	executionService := services.NewExecutionService(attempts, manifests, executor, cfg.Warehouse.PageSize, logger)
	exportService := services.NewExportService(manifests, cfg.Export.RowLimit, cfg.Export.Directory, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(queryService, executionService, exportService, logger).RegisterRoutes(mux)
	handlers.NewAdminHandler(catalog, examples, indexer, logger).RegisterRoutes(mux)

	handler := middleware.Recovery(logger)(middleware.RequestLogger(logger)(mux))

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting fleetsense-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Fatal("Server failed", zap.Error(err))
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	var zapCfg zap.Config
	if cfg.Env == "local" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
