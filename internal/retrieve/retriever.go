// Package retrieve runs the two-stage hybrid retrieval pipeline: semantic
// and lexical search in parallel, reciprocal-rank fusion of the two result
// lists, then re-ranking of the fused candidates against the original
// question.
package retrieve

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/epiintel/drkb/internal/embed"
	"github.com/epiintel/drkb/internal/index"
	"github.com/epiintel/drkb/internal/log"
	"github.com/epiintel/drkb/internal/query"
)

// Searcher is the index surface the retriever needs.
type Searcher interface {
	SemanticSearch(ctx context.Context, embedding []float32, f index.Filters, limit int) ([]index.Hit, error)
	LexicalSearch(ctx context.Context, q string, f index.Filters, limit int) ([]index.Hit, error)
	Count(ctx context.Context) (int64, error)
}

// Config holds the fusion and ranking parameters.
type Config struct {
	// Alpha weights the semantic leg; the lexical leg gets 1-Alpha.
	Alpha float64

	// RRFConstant is the kappa in 1/(kappa+rank).
	RRFConstant int

	// FusedTopN is how many fused candidates go to the re-ranker.
	FusedTopN int

	// TopK is the final result count.
	TopK int
}

// Result is one retrieved chunk with its ranking scores.
type Result struct {
	Hit         index.Hit
	FusedScore  float64
	RerankScore float64
}

// Retriever executes hybrid retrieval.
type Retriever struct {
	searcher Searcher
	embedder embed.Embedder
	reranker Reranker
	cfg      Config
	logger   log.Logger
}

// New creates a Retriever. reranker may be nil to skip the second stage.
func New(searcher Searcher, embedder embed.Embedder, reranker Reranker, cfg Config, logger log.Logger) *Retriever {
	return &Retriever{
		searcher: searcher,
		embedder: embedder,
		reranker: reranker,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve returns the top chunks for a parsed question. Both retrieval
// legs run concurrently over the same filters; re-ranking failures degrade
// to the fused order rather than failing the query.
func (r *Retriever) Retrieve(ctx context.Context, q query.Parsed) ([]Result, error) {
	n, err := r.searcher.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking collection: %w", err)
	}
	if n == 0 {
		return nil, index.ErrNotLoaded
	}

	var semantic, lexical []index.Hit
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		vectors, err := r.embedder.Embed(gctx, []string{q.Enhanced})
		if err != nil {
			return fmt.Errorf("embedding query: %w", err)
		}
		semantic, err = r.searcher.SemanticSearch(gctx, vectors[0], q.Filters, r.cfg.FusedTopN)
		if err != nil {
			return fmt.Errorf("semantic leg: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		lexical, err = r.searcher.LexicalSearch(gctx, q.Enhanced, q.Filters, r.cfg.FusedTopN)
		if err != nil {
			return fmt.Errorf("lexical leg: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := r.fuse(semantic, lexical)
	if len(fused) > r.cfg.FusedTopN {
		fused = fused[:r.cfg.FusedTopN]
	}

	r.logger.Debug("retrieval legs fused",
		"semantic", len(semantic), "lexical", len(lexical), "fused", len(fused))

	results := r.rerank(ctx, q.Raw, fused)
	if len(results) > r.cfg.TopK {
		results = results[:r.cfg.TopK]
	}
	return results, nil
}

// fuse combines both legs with weighted reciprocal-rank fusion. A chunk
// absent from one leg simply contributes nothing for that leg. Ties break
// on chunk ID so results are deterministic.
func (r *Retriever) fuse(semantic, lexical []index.Hit) []Result {
	type fusedHit struct {
		hit   index.Hit
		score float64
	}
	byID := make(map[string]*fusedHit)

	accumulate := func(hits []index.Hit, weight float64) {
		for i, h := range hits {
			rrf := weight / float64(r.cfg.RRFConstant+i+1)
			if f, ok := byID[h.ChunkID]; ok {
				f.score += rrf
				continue
			}
			byID[h.ChunkID] = &fusedHit{hit: h, score: rrf}
		}
	}
	accumulate(semantic, r.cfg.Alpha)
	accumulate(lexical, 1-r.cfg.Alpha)

	fused := make([]Result, 0, len(byID))
	for _, f := range byID {
		fused = append(fused, Result{Hit: f.hit, FusedScore: f.score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].FusedScore != fused[j].FusedScore {
			return fused[i].FusedScore > fused[j].FusedScore
		}
		return fused[i].Hit.ChunkID < fused[j].Hit.ChunkID
	})
	return fused
}

// rerank scores candidates against the raw question. Any scoring error
// fails open: the fused order stands.
func (r *Retriever) rerank(ctx context.Context, question string, fused []Result) []Result {
	if r.reranker == nil || len(fused) == 0 {
		return fused
	}

	scored := make([]Result, len(fused))
	copy(scored, fused)

	for i := range scored {
		score, err := r.reranker.Score(ctx, question, scored[i].Hit.Content)
		if err != nil {
			r.logger.Warn("re-ranking failed, keeping fused order", "error", err)
			return fused
		}
		scored[i].RerankScore = score
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].RerankScore != scored[j].RerankScore {
			return scored[i].RerankScore > scored[j].RerankScore
		}
		return scored[i].FusedScore > scored[j].FusedScore
	})
	return scored
}
