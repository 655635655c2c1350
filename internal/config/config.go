// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.drkb/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Storage: PostgreSQL connection for the hybrid index (see storage.go)
//   - Embedding: model, dimensions, batch threshold, bulk polling
//   - Retrieval: fusion and re-ranking tunables
//   - Update: backup retention, pipeline timeout
//
// The retrieval constants (fusion alpha, RRF k, candidate counts) are
// empirically chosen, not derived; they live here as overridable settings
// rather than hard constants.
//
// Security: the OpenAI API key is read from OPENAI_API_KEY only and the
// PostgreSQL password is never logged.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates the OpenAI API key is not set.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidEmbedderModel indicates the embedder model name is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidDimensions indicates the embedding dimension is out of range.
	ErrInvalidDimensions = errors.New("invalid embedding dimensions")

	// ErrInvalidChunking indicates the chunk budget/overlap pair is unusable.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidFusion indicates a fusion tunable is out of range.
	ErrInvalidFusion = errors.New("invalid fusion configuration")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates an unknown PostgreSQL SSL mode.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidRetention indicates a non-positive backup retention window.
	ErrInvalidRetention = errors.New("invalid backup retention")
)

const (
	// DefaultEmbedderModel is the OpenAI embedding model used for indexing
	// and queries. 1536 dimensions, cheap enough for full-collection rebuilds.
	DefaultEmbedderModel = "text-embedding-3-small"

	// DefaultEmbeddingDimensions matches DefaultEmbedderModel output.
	DefaultEmbeddingDimensions = 1536

	// DefaultChunkTokens is the token budget per chunk.
	DefaultChunkTokens = 512

	// DefaultChunkOverlap is the trailing-token overlap between consecutive
	// chunks of a split event.
	DefaultChunkOverlap = 100

	// DefaultBatchThreshold is the batch size at which embedding switches
	// from synchronous per-item calls to the asynchronous bulk job.
	DefaultBatchThreshold = 100

	// DefaultRecentLookbackMonths is the window a query like "recent
	// outbreaks" maps to. Policy choice, not a derived value: surveillance
	// analysts treat roughly the last two years as current.
	DefaultRecentLookbackMonths = 24

	// DefaultBackupRetention is how long pre-update snapshot backups are
	// kept after a successful update.
	DefaultBackupRetention = 48 * time.Hour
)

// Config stores application configuration.
type Config struct {
	// Data directory for the current snapshot, backups, embedding cache and
	// the version ledger. Default: ~/.drkb/data
	DataDir string `mapstructure:"data_dir"`

	// Worksheet is the Excel worksheet name events are read from.
	Worksheet string `mapstructure:"worksheet"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Embedding configuration
	EmbedderModel       string        `mapstructure:"embedder_model"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	BatchThreshold      int           `mapstructure:"batch_threshold"`
	EmbedTimeout        time.Duration `mapstructure:"embed_timeout"`
	EmbedRateLimit      float64       `mapstructure:"embed_rate_limit"` // requests per second
	BulkPollInterval    time.Duration `mapstructure:"bulk_poll_interval"`
	BulkMaxWait         time.Duration `mapstructure:"bulk_max_wait"`

	// Chunking configuration
	ChunkTokens  int `mapstructure:"chunk_tokens"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`

	// Retrieval configuration
	FusionAlpha   float64       `mapstructure:"fusion_alpha"` // weight toward semantic
	RRFConstant   int           `mapstructure:"rrf_constant"`
	FusedTopN     int           `mapstructure:"fused_top_n"`
	RerankTopK    int           `mapstructure:"rerank_top_k"`
	SearchTimeout time.Duration `mapstructure:"search_timeout"`

	// Query understanding
	RecentLookbackMonths int `mapstructure:"recent_lookback_months"`

	// Update pipeline
	UpdateTimeout   time.Duration `mapstructure:"update_timeout"`
	BackupRetention time.Duration `mapstructure:"backup_retention"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".drkb")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults(configDir)
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when present.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(configDir string) {
	viper.SetDefault("data_dir", filepath.Join(configDir, "data"))
	viper.SetDefault("worksheet", "DR data")

	// PostgreSQL defaults for a local development database
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "drkb")
	viper.SetDefault("postgres_password", "drkb_dev_password")
	viper.SetDefault("postgres_db_name", "drkb")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Embedding defaults
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedding_dimensions", DefaultEmbeddingDimensions)
	viper.SetDefault("batch_threshold", DefaultBatchThreshold)
	viper.SetDefault("embed_timeout", 30*time.Second)
	viper.SetDefault("embed_rate_limit", 5.0)
	viper.SetDefault("bulk_poll_interval", 30*time.Second)
	viper.SetDefault("bulk_max_wait", time.Hour)

	// Chunking defaults
	viper.SetDefault("chunk_tokens", DefaultChunkTokens)
	viper.SetDefault("chunk_overlap", DefaultChunkOverlap)

	// Retrieval defaults
	viper.SetDefault("fusion_alpha", 0.7)
	viper.SetDefault("rrf_constant", 60)
	viper.SetDefault("fused_top_n", 50)
	viper.SetDefault("rerank_top_k", 10)
	viper.SetDefault("search_timeout", 10*time.Second)

	viper.SetDefault("recent_lookback_months", DefaultRecentLookbackMonths)

	// Update pipeline defaults
	viper.SetDefault("update_timeout", 30*time.Minute)
	viper.SetDefault("backup_retention", DefaultBackupRetention)
}

// bindEnvVariables binds environment variable overrides explicitly.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a bug in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("data_dir", "DRKB_DATA_DIR")
	mustBind("worksheet", "DRKB_WORKSHEET")
	mustBind("embedder_model", "DRKB_EMBEDDER_MODEL")
	mustBind("batch_threshold", "DRKB_BATCH_THRESHOLD")
	mustBind("postgres_host", "DRKB_POSTGRES_HOST")
	mustBind("postgres_port", "DRKB_POSTGRES_PORT")
	mustBind("postgres_user", "DRKB_POSTGRES_USER")
	mustBind("postgres_password", "DRKB_POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "DRKB_POSTGRES_DB_NAME")
	mustBind("postgres_ssl_mode", "DRKB_POSTGRES_SSL_MODE")
	mustBind("embedding_dimensions", "DRKB_EMBEDDING_DIMENSIONS")
	mustBind("embed_timeout", "DRKB_EMBED_TIMEOUT")
	mustBind("embed_rate_limit", "DRKB_EMBED_RATE_LIMIT")
	mustBind("bulk_poll_interval", "DRKB_BULK_POLL_INTERVAL")
	mustBind("bulk_max_wait", "DRKB_BULK_MAX_WAIT")
	mustBind("chunk_tokens", "DRKB_CHUNK_TOKENS")
	mustBind("chunk_overlap", "DRKB_CHUNK_OVERLAP")
	mustBind("fusion_alpha", "DRKB_FUSION_ALPHA")
	mustBind("rrf_constant", "DRKB_RRF_CONSTANT")
	mustBind("fused_top_n", "DRKB_FUSED_TOP_N")
	mustBind("rerank_top_k", "DRKB_RERANK_TOP_K")
	mustBind("search_timeout", "DRKB_SEARCH_TIMEOUT")
	mustBind("recent_lookback_months", "DRKB_RECENT_LOOKBACK_MONTHS")
	mustBind("update_timeout", "DRKB_UPDATE_TIMEOUT")
	mustBind("backup_retention", "DRKB_BACKUP_RETENTION")

	// NOTE: OPENAI_API_KEY is read directly by the embedding client, not via
	// Viper. Validation checks its presence in cfg.Validate().
}

// OpenAIAPIKey returns the OpenAI API key from the environment.
func (c *Config) OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}
