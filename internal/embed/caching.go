package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/epiintel/drkb/internal/log"
)

// CachingEmbedder fronts the sync and bulk paths with the persistent cache.
// Cache misses are routed by volume: below threshold they go through the
// synchronous client, at or above it through the Batch API. A bulk failure
// falls back to the synchronous path so an update never dies on batch
// infrastructure alone.
type CachingEmbedder struct {
	cache      *Cache
	sync       Embedder
	bulk       Embedder
	threshold  int
	model      string
	dimensions int
	logger     log.Logger
}

// NewCachingEmbedder wires the cache in front of the two embedding paths.
// bulk may be nil, in which case every miss goes through sync.
func NewCachingEmbedder(cache *Cache, syncPath, bulkPath Embedder, threshold int, model string, dimensions int, logger log.Logger) *CachingEmbedder {
	return &CachingEmbedder{
		cache:      cache,
		sync:       syncPath,
		bulk:       bulkPath,
		threshold:  threshold,
		model:      model,
		dimensions: dimensions,
		logger:     logger,
	}
}

// Embed returns one vector per text, in order. Only cache misses reach the
// provider; the cache is persisted after new vectors arrive.
func (ce *CachingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	out := make([][]float32, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)
	for i, text := range texts {
		if vec, ok := ce.cache.Get(CacheKey(ce.model, ce.dimensions, text)); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	ce.logger.Info("embedding batch",
		"texts", len(texts), "cached", len(texts)-len(missTexts), "misses", len(missTexts))

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, embedErr := ce.embedMisses(ctx, missTexts)
	if embedErr != nil && !errors.Is(embedErr, ErrPartialFailure) {
		return nil, embedErr
	}

	// On a partial failure the produced vectors are still cached so a
	// retry only re-embeds the failed items.
	for j, i := range missIdx {
		if vectors[j] == nil {
			continue
		}
		out[i] = vectors[j]
		ce.cache.Put(CacheKey(ce.model, ce.dimensions, texts[i]), vectors[j])
	}

	if err := ce.cache.Save(); err != nil {
		return nil, fmt.Errorf("persisting embedding cache: %w", err)
	}
	if embedErr != nil {
		return nil, embedErr
	}
	return out, nil
}

// bulkAttempts bounds whole-batch retries of a failed bulk job before the
// synchronous fallback takes over. Timeouts are not retried; their deadline
// budget is already spent.
const bulkAttempts = 2

func (ce *CachingEmbedder) embedMisses(ctx context.Context, texts []string) ([][]float32, error) {
	if ce.bulk == nil || len(texts) < ce.threshold {
		return ce.embedSync(ctx, texts)
	}

	var err error
	for attempt := 1; attempt <= bulkAttempts; attempt++ {
		var vectors [][]float32
		vectors, err = ce.bulk.Embed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		if errors.Is(err, ErrBulkTimeout) {
			break
		}
		ce.logger.Warn("bulk embedding attempt failed",
			"attempt", attempt, "texts", len(texts), "error", err)
	}

	ce.logger.Warn("bulk embedding failed, falling back to synchronous path",
		"texts", len(texts), "error", err)
	return ce.embedSync(ctx, texts)
}

// embedSync embeds one batched request, degrading to per-item calls when
// the batch fails so a single bad input cannot sink the rest. The per-item
// pass returns the vectors it did obtain alongside ErrPartialFailure
// naming the failed positions.
func (ce *CachingEmbedder) embedSync(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := ce.sync.Embed(ctx, texts)
	if err == nil {
		return vectors, nil
	}
	if ctx.Err() != nil || len(texts) == 1 {
		return nil, err
	}

	ce.logger.Warn("batched request failed, retrying items individually",
		"texts", len(texts), "error", err)

	out := make([][]float32, len(texts))
	var failed []int
	var firstErr error
	for i, text := range texts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		vecs, itemErr := ce.sync.Embed(ctx, []string{text})
		if itemErr != nil {
			failed = append(failed, i)
			if firstErr == nil {
				firstErr = itemErr
			}
			continue
		}
		out[i] = vecs[0]
	}
	if len(failed) > 0 {
		return out, fmt.Errorf("%w: items %v: %v", ErrPartialFailure, failed, firstErr)
	}
	return out, nil
}
