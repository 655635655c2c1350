package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/epiintel/drkb/internal/log"
)

var chunkColumns = []string{
	"generation", "chunk_id", "event_id", "chunk_index", "total_chunks",
	"content", "embedding", "event_date", "hazard", "hazard_norm",
	"reported_location", "cited_location", "section", "keywords",
}

// PG is the PostgreSQL-backed hybrid index.
//
// PG is safe for concurrent use; a ReplaceCollection running concurrently
// with searches is invisible to them until the generation pointer flips.
type PG struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewPG creates a hybrid index over an open pool.
func NewPG(pool *pgxpool.Pool, logger log.Logger) *PG {
	return &PG{pool: pool, logger: logger}
}

// SemanticSearch returns the chunks nearest to embedding by cosine
// distance, restricted to the active generation and the given filters.
func (p *PG) SemanticSearch(ctx context.Context, embedding []float32, f Filters, limit int) ([]Hit, error) {
	args := []any{pgvector.NewVector(embedding)}
	where := filterClauses(f, &args)
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT chunk_id, event_id, content, 1 - (embedding <=> $1) AS score,
		       event_date, hazard, reported_location, section
		FROM chunks
		WHERE generation = (SELECT active_generation FROM collection_meta)%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, where, len(args))

	hits, err := p.queryHits(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	p.logger.Debug("semantic search", "hits", len(hits), "limit", limit, "filtered", !f.Empty())
	return hits, nil
}

// LexicalSearch returns chunks matching the query text under websearch
// syntax, ranked by ts_rank_cd, restricted to the active generation and the
// given filters.
func (p *PG) LexicalSearch(ctx context.Context, query string, f Filters, limit int) ([]Hit, error) {
	args := []any{query}
	where := filterClauses(f, &args)
	args = append(args, limit)

	sql := fmt.Sprintf(`
		SELECT chunk_id, event_id, content,
		       ts_rank_cd(tsv, websearch_to_tsquery('english', $1)) AS score,
		       event_date, hazard, reported_location, section
		FROM chunks
		WHERE generation = (SELECT active_generation FROM collection_meta)
		  AND tsv @@ websearch_to_tsquery('english', $1)%s
		ORDER BY score DESC, chunk_id
		LIMIT $%d`, where, len(args))

	hits, err := p.queryHits(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	p.logger.Debug("lexical search", "hits", len(hits), "limit", limit, "filtered", !f.Empty())
	return hits, nil
}

// ReplaceCollection atomically swaps in a new set of documents. The new
// generation is fully staged before the active-generation pointer moves, so
// concurrent searches see either the old collection or the new one, never a
// mix. Old generations are pruned best-effort after commit.
func (p *PG) ReplaceCollection(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return ErrEmptyCollection
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning swap transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var active int64
	if err := tx.QueryRow(ctx,
		`SELECT active_generation FROM collection_meta FOR UPDATE`).Scan(&active); err != nil {
		return fmt.Errorf("locking collection pointer: %w", err)
	}
	next := active + 1

	// Leftover rows from a crashed staging attempt.
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE generation >= $1`, next); err != nil {
		return fmt.Errorf("clearing staged generation %d: %w", next, err)
	}

	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"chunks"}, chunkColumns,
		pgx.CopyFromSlice(len(docs), func(i int) ([]any, error) {
			d := docs[i]
			return []any{
				next, d.Chunk.ID, d.Chunk.EventID, d.Chunk.Index, d.Chunk.Total,
				d.Chunk.Text, pgvector.NewVector(d.Embedding), d.Chunk.Meta.Date,
				d.Chunk.Meta.Hazard, d.Chunk.Meta.NormalizedHazard,
				d.Chunk.Meta.ReportedLocation, d.Chunk.Meta.CitedLocation,
				d.Chunk.Meta.Section, strings.Join(d.Chunk.Meta.Keywords, ", "),
			}, nil
		}))
	if err != nil {
		return fmt.Errorf("staging generation %d: %w", next, err)
	}
	if copied != int64(len(docs)) {
		return fmt.Errorf("staged %d of %d documents", copied, len(docs))
	}

	if _, err := tx.Exec(ctx,
		`UPDATE collection_meta SET active_generation = $1, activated_at = now()`, next); err != nil {
		return fmt.Errorf("activating generation %d: %w", next, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing swap: %w", err)
	}

	p.logger.Info("collection replaced", "generation", next, "documents", len(docs))

	if _, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE generation < $1`, next); err != nil {
		p.logger.Warn("pruning old generations failed", "error", err)
	}
	return nil
}

// Count returns the number of chunks in the active collection.
func (p *PG) Count(ctx context.Context) (int64, error) {
	var n int64
	err := p.pool.QueryRow(ctx, `
		SELECT count(*) FROM chunks
		WHERE generation = (SELECT active_generation FROM collection_meta)`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// Generation returns the active collection generation, 0 when nothing has
// been loaded.
func (p *PG) Generation(ctx context.Context) (int64, error) {
	var gen int64
	err := p.pool.QueryRow(ctx, `SELECT active_generation FROM collection_meta`).Scan(&gen)
	if err != nil {
		return 0, fmt.Errorf("reading collection generation: %w", err)
	}
	return gen, nil
}

func (p *PG) queryHits(ctx context.Context, sql string, args []any) ([]Hit, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var date time.Time
		if err := rows.Scan(&h.ChunkID, &h.EventID, &h.Content, &h.Score,
			&date, &h.Hazard, &h.ReportedLocation, &h.Section); err != nil {
			return nil, err
		}
		h.Date = date
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// filterClauses appends filter arguments and returns the matching " AND ..."
// SQL fragment.
func filterClauses(f Filters, args *[]any) string {
	var b strings.Builder

	if f.DateFrom != nil {
		*args = append(*args, *f.DateFrom)
		fmt.Fprintf(&b, " AND event_date >= $%d", len(*args))
	}
	if f.DateTo != nil {
		*args = append(*args, *f.DateTo)
		fmt.Fprintf(&b, " AND event_date <= $%d", len(*args))
	}
	if f.Hazard != "" {
		*args = append(*args, f.Hazard)
		fmt.Fprintf(&b, " AND hazard_norm = $%d", len(*args))
	}
	if f.Location != "" {
		*args = append(*args, "%"+f.Location+"%")
		n := len(*args)
		fmt.Fprintf(&b, " AND (reported_location ILIKE $%d OR cited_location ILIKE $%d)", n, n)
	}
	if f.Section != "" {
		*args = append(*args, f.Section)
		fmt.Fprintf(&b, " AND section = $%d", len(*args))
	}

	return b.String()
}
