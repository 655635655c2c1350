package index

import (
	"errors"
	"time"

	"github.com/epiintel/drkb/internal/chunk"
)

var (
	// ErrEmptyCollection indicates a replace with zero documents, which
	// would silently wipe the index.
	ErrEmptyCollection = errors.New("refusing to replace collection with zero documents")

	// ErrNotLoaded indicates no collection generation has been activated
	// yet.
	ErrNotLoaded = errors.New("no collection loaded")
)

// Document is one chunk with its embedding, ready for indexing.
type Document struct {
	Chunk     chunk.Chunk
	Embedding []float32
}

// Filters narrows a search to a metadata subset. Zero values mean
// unfiltered.
type Filters struct {
	DateFrom *time.Time
	DateTo   *time.Time

	// Hazard matches the normalized hazard exactly.
	Hazard string

	// Location substring-matches reported and cited locations.
	Location string

	// Section matches the report section exactly.
	Section string
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool {
	return f.DateFrom == nil && f.DateTo == nil &&
		f.Hazard == "" && f.Location == "" && f.Section == ""
}

// Hit is one search result from either retrieval leg. Score semantics
// differ per leg (cosine similarity vs ts_rank_cd); rank fusion only relies
// on ordering.
type Hit struct {
	ChunkID          string
	EventID          string
	Content          string
	Score            float64
	Date             time.Time
	Hazard           string
	ReportedLocation string
	Section          string
}
