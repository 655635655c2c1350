package retrieve

import (
	"context"
	"strings"
)

// Reranker scores a (question, chunk text) pair for relevance. Higher is
// more relevant. A cross-encoder implementation can be slotted in here; the
// default is the lexical scorer below.
type Reranker interface {
	Score(ctx context.Context, question, text string) (float64, error)
}

// rerankStopwords are ignored when computing term overlap.
var rerankStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "in": {}, "on": {}, "of": {}, "for": {},
	"to": {}, "and": {}, "or": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"what": {}, "which": {}, "who": {}, "how": {}, "about": {}, "with": {},
	"recent": {}, "latest": {}, "tell": {}, "me": {},
}

// TermOverlap is a dependency-free re-ranker: the score is the fraction of
// the question's content terms that appear in the chunk text. Crude next to
// a cross-encoder, but enough to push chunks that mention every query term
// above those that match only one leg strongly.
type TermOverlap struct{}

// Score implements Reranker. It never returns an error.
func (TermOverlap) Score(_ context.Context, question, text string) (float64, error) {
	terms := contentTerms(question)
	if len(terms) == 0 {
		return 0, nil
	}

	lowerText := strings.ToLower(text)
	matched := 0
	for term := range terms {
		if strings.Contains(lowerText, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms)), nil
}

func contentTerms(s string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,!?;:\"'()")
		if len(f) < 2 {
			continue
		}
		if _, stop := rerankStopwords[f]; stop {
			continue
		}
		terms[f] = struct{}{}
	}
	return terms
}
