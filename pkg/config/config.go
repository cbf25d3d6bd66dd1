// Package config loads engine configuration from config.yaml with
// environment variable overrides.
package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for fleetsense-engine.
// Environment variables always override YAML values. Secrets (passwords,
// API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Engine store (query attempts, manifests)
	Database DatabaseConfig `yaml:"database"`

	// Target warehouse the generated SQL runs against (read-only)
	Warehouse WarehouseConfig `yaml:"warehouse"`

	// LLM provider configuration
	LLM LLMConfig `yaml:"llm"`

	// Retrieval-augmented generation settings
	RAG RAGConfig `yaml:"rag"`

	// Generation pipeline settings
	Generation GenerationConfig `yaml:"generation"`

	// CSV export settings
	Export ExportConfig `yaml:"export"`
}

// DatabaseConfig holds PostgreSQL configuration for the engine's own store.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"fleetsense"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"fleetsense_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// WarehouseConfig holds the read-only connection to the target database
// that generated SQL executes against.
type WarehouseConfig struct {
	// URL is the full connection string. Secret because it carries credentials.
	URL string `yaml:"-" env:"WAREHOUSE_URL"`
	// TimeoutSeconds is the per-query wall-clock budget.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"WAREHOUSE_TIMEOUT_SECONDS" env-default:"30"`
	// PoolMaxConns caps the read-only pool size.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"WAREHOUSE_POOL_MAX_CONNS" env-default:"5"`
	// PageSize is the number of rows per result page.
	PageSize int `yaml:"page_size" env:"WAREHOUSE_PAGE_SIZE" env-default:"500"`
}

// LLMConfig holds chat-completion and embedding endpoint configuration.
type LLMConfig struct {
	// Provider selects the chat backend: "openai" or "anthropic".
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`

	// OpenAI-compatible chat endpoint (also serves embeddings).
	Endpoint string `yaml:"endpoint" env:"OPENAI_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model    string `yaml:"model" env:"OPENAI_MODEL" env-default:"gpt-4o"`
	APIKey   string `yaml:"-" env:"OPENAI_API_KEY"` // Secret - not in YAML

	// EmbeddingModel is used for both example and question embeddings.
	EmbeddingModel string `yaml:"embedding_model" env:"OPENAI_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`

	// Anthropic chat settings, used when Provider is "anthropic".
	// Embeddings still route to the OpenAI-compatible endpoint.
	AnthropicAPIKey string `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML
	AnthropicModel  string `yaml:"anthropic_model" env:"ANTHROPIC_MODEL" env-default:"claude-sonnet-4-5-20250929"`

	// MaxTokens bounds SQL-generation responses. Table selection uses a
	// smaller internal budget since it returns names only.
	MaxTokens   int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1000"`
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0"`
}

// RAGConfig holds knowledge-base retrieval settings.
type RAGConfig struct {
	// KnowledgeDir contains curated .sql example files.
	KnowledgeDir string `yaml:"knowledge_dir" env:"RAG_KNOWLEDGE_DIR" env-default:"data/knowledge_base"`
	// EmbeddingsFile is the persisted side-store of example embeddings.
	EmbeddingsFile string `yaml:"embeddings_file" env:"RAG_EMBEDDINGS_FILE" env-default:"data/knowledge_base/embeddings.json"`
	// SimilarityThreshold above which a stored example's SQL is returned
	// verbatim instead of invoking generation.
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"RAG_SIMILARITY_THRESHOLD" env-default:"0.85"`
	// TopK examples included as generation context.
	TopK int `yaml:"top_k" env:"RAG_TOP_K" env-default:"3"`
}

// GenerationConfig holds pipeline settings.
type GenerationConfig struct {
	// SchemaFile is the flat column-level schema dump consumed at load time.
	SchemaFile string `yaml:"schema_file" env:"GENERATION_SCHEMA_FILE" env-default:"data/schema/schema_overview.json"`
	// MaxTables is the cap on tables selected in stage 1.
	MaxTables int `yaml:"max_tables" env:"GENERATION_MAX_TABLES" env-default:"10"`
}

// ExportConfig holds CSV export settings.
type ExportConfig struct {
	// RowLimit above which exports are rejected rather than truncated.
	RowLimit int `yaml:"row_limit" env:"EXPORT_ROW_LIMIT" env-default:"10000"`
	// Directory where export files are written.
	Directory string `yaml:"directory" env:"EXPORT_DIRECTORY" env-default:"exports"`
}

// Load reads configuration from the given YAML file with environment
// variable overrides. If the file does not exist, configuration comes
// from environment variables and defaults alone. The version parameter
// is injected at build time.
func Load(path string, version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Warehouse.TimeoutSeconds <= 0 {
		return fmt.Errorf("warehouse timeout_seconds must be positive")
	}
	if c.Warehouse.PageSize <= 0 {
		return fmt.Errorf("warehouse page_size must be positive")
	}
	if c.RAG.SimilarityThreshold < 0 || c.RAG.SimilarityThreshold > 1 {
		return fmt.Errorf("rag similarity_threshold must be in [0, 1]")
	}
	if c.Generation.MaxTables <= 0 {
		return fmt.Errorf("generation max_tables must be positive")
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm provider must be openai or anthropic, got %q", c.LLM.Provider)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string for the engine store.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
