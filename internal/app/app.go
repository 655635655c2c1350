// Package app wires the application together.
//
// App is the composition root: it opens the database pool, runs pending
// migrations, builds the embedding stack and hands out the retriever and the
// update orchestrator. Entry points (cmd) only ever talk to App; no command
// constructs a component by hand.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epiintel/drkb/internal/chunk"
	"github.com/epiintel/drkb/internal/config"
	"github.com/epiintel/drkb/internal/embed"
	"github.com/epiintel/drkb/internal/index"
	"github.com/epiintel/drkb/internal/ledger"
	"github.com/epiintel/drkb/internal/log"
	"github.com/epiintel/drkb/internal/query"
	"github.com/epiintel/drkb/internal/retrieve"
	"github.com/epiintel/drkb/internal/update"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Pool      *pgxpool.Pool
	Index     *index.PG
	Embedder  *embed.CachingEmbedder
	Parser    *query.Parser
	Retriever *retrieve.Retriever
	Ledger    *ledger.Ledger
	Updater   *update.Orchestrator
}

// New builds a fully wired application. The returned App owns the database
// pool; callers must Close it.
func New(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	if err := index.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	pool, err := index.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		Pool:   pool,
		Index:  index.NewPG(pool, logger.With("component", "index")),
	}

	if err := a.buildEmbedder(); err != nil {
		pool.Close()
		return nil, err
	}
	if err := a.buildPipeline(); err != nil {
		pool.Close()
		return nil, err
	}

	a.Parser = query.NewParser(cfg.RecentLookbackMonths)
	a.Retriever = retrieve.New(a.Index, a.Embedder, retrieve.TermOverlap{},
		retrieve.Config{
			Alpha:       cfg.FusionAlpha,
			RRFConstant: cfg.RRFConstant,
			FusedTopN:   cfg.FusedTopN,
			TopK:        cfg.RerankTopK,
		}, logger.With("component", "retrieve"))

	return a, nil
}

func (a *App) buildEmbedder() error {
	cfg := a.Config

	cache, err := embed.OpenCache(filepath.Join(cfg.DataDir, "embedding_cache.json"),
		a.Logger.With("component", "embed_cache"))
	if err != nil {
		return fmt.Errorf("opening embedding cache: %w", err)
	}

	apiKey := cfg.OpenAIAPIKey()
	sync := embed.NewClient(apiKey, cfg.EmbedderModel, cfg.EmbeddingDimensions,
		a.Logger.With("component", "embed"),
		embed.WithRateLimit(cfg.EmbedRateLimit))
	bulk := embed.NewBulkClient(embed.NewOpenAIBatchAPI(apiKey),
		cfg.EmbedderModel, cfg.EmbeddingDimensions,
		cfg.BulkPollInterval, cfg.BulkMaxWait,
		a.Logger.With("component", "embed_bulk"))

	a.Embedder = embed.NewCachingEmbedder(cache, sync, bulk,
		cfg.BatchThreshold, cfg.EmbedderModel, cfg.EmbeddingDimensions,
		a.Logger.With("component", "embed_cache"))
	return nil
}

func (a *App) buildPipeline() error {
	cfg := a.Config

	tok, err := chunk.NewTokenizer()
	if err != nil {
		return fmt.Errorf("loading tokenizer: %w", err)
	}
	splitter, err := chunk.NewSplitter(tok, cfg.ChunkTokens, cfg.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("building splitter: %w", err)
	}

	led, err := ledger.Open(filepath.Join(cfg.DataDir, "metadata.json"),
		a.Logger.With("component", "ledger"))
	if err != nil {
		return fmt.Errorf("opening version ledger: %w", err)
	}
	a.Ledger = led

	state, err := update.OpenHashState(filepath.Join(cfg.DataDir, "event_hashes.json"))
	if err != nil {
		return fmt.Errorf("opening hash state: %w", err)
	}
	backups := update.NewBackupStore(filepath.Join(cfg.DataDir, "backups"),
		cfg.BackupRetention, a.Logger.With("component", "backup"))

	a.Updater = update.New(a.Index, a.Embedder, splitter, led, backups, state,
		cfg.Worksheet, a.Logger.With("component", "update"),
		update.WithEmbeddingModel(cfg.EmbedderModel))
	return nil
}

// Close releases the database pool.
func (a *App) Close() error {
	if a.Pool != nil {
		a.Pool.Close()
	}
	a.Logger.Debug("application closed")
	return nil
}
