package config

import "fmt"

// validSSLModes are the PostgreSQL SSL modes pgx accepts.
var validSSLModes = map[string]struct{}{
	"disable":     {},
	"allow":       {},
	"prefer":      {},
	"require":     {},
	"verify-ca":   {},
	"verify-full": {},
}

// Validate checks the configuration for values that would fail at runtime.
// It is called from Load so a bad configuration fails fast at startup.
func (c *Config) Validate() error {
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}

	if c.EmbeddingDimensions < 1 || c.EmbeddingDimensions > 4096 {
		return fmt.Errorf("%w: got %d, must be in [1, 4096]", ErrInvalidDimensions, c.EmbeddingDimensions)
	}

	if c.ChunkTokens < 64 {
		return fmt.Errorf("%w: chunk budget %d is below the 64-token minimum", ErrInvalidChunking, c.ChunkTokens)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkTokens {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidChunking, c.ChunkOverlap, c.ChunkTokens)
	}

	if c.FusionAlpha < 0 || c.FusionAlpha > 1 {
		return fmt.Errorf("%w: alpha %g must be in [0, 1]", ErrInvalidFusion, c.FusionAlpha)
	}
	if c.RRFConstant < 1 {
		return fmt.Errorf("%w: RRF constant %d must be positive", ErrInvalidFusion, c.RRFConstant)
	}
	if c.FusedTopN < 1 || c.RerankTopK < 1 {
		return fmt.Errorf("%w: top-n %d and top-k %d must be positive", ErrInvalidFusion, c.FusedTopN, c.RerankTopK)
	}
	if c.RerankTopK > c.FusedTopN {
		return fmt.Errorf("%w: top-k %d exceeds fused top-n %d", ErrInvalidFusion, c.RerankTopK, c.FusedTopN)
	}

	if c.BatchThreshold < 1 {
		return fmt.Errorf("%w: batch threshold must be positive", ErrInvalidFusion)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if _, ok := validSSLModes[c.PostgresSSLMode]; !ok {
		return fmt.Errorf("%w: got %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if c.BackupRetention <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidRetention, c.BackupRetention)
	}

	return nil
}

// ValidateAPIKey checks that the OpenAI API key is present. Separated from
// Validate because commands that never call the embedding API (version,
// stats) should not require it.
func (c *Config) ValidateAPIKey() error {
	if c.OpenAIAPIKey() == "" {
		return fmt.Errorf("%w: set OPENAI_API_KEY", ErrMissingAPIKey)
	}
	return nil
}
