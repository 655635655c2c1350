package chunk

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/epiintel/drkb/internal/event"
)

var (
	// ErrInvalidBudget indicates a non-positive token budget or an overlap
	// at least as large as the budget.
	ErrInvalidBudget = errors.New("invalid chunk budget")

	// ErrHeaderTooLarge indicates an event whose header block leaves no
	// room for body text within the budget.
	ErrHeaderTooLarge = errors.New("event header exceeds chunk budget")
)

// Metadata is the filterable attribute set attached to every chunk. All
// chunks of one event carry identical metadata.
type Metadata struct {
	EntryID          string
	Date             time.Time
	Hazard           string
	NormalizedHazard string
	ReportedLocation string
	CitedLocation    string
	Section          string
	Keywords         []string
}

// Chunk is one token-budgeted slice of an event's rendered text.
type Chunk struct {
	// ID is "<entry id>-<index>", e.g. "00123-0". Stable across runs for
	// unchanged input.
	ID      string
	EventID string
	Index   int
	Total   int
	Text    string
	Tokens  int
	Meta    Metadata
}

// Splitter turns events into chunks under a token budget with a trailing
// overlap between consecutive chunks.
type Splitter struct {
	tok     Tokenizer
	budget  int
	overlap int
}

// NewSplitter validates the budget/overlap pair up front so a
// misconfiguration fails at startup rather than mid-update.
func NewSplitter(tok Tokenizer, budget, overlap int) (*Splitter, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("%w: budget %d", ErrInvalidBudget, budget)
	}
	if overlap < 0 || overlap >= budget {
		return nil, fmt.Errorf("%w: overlap %d with budget %d", ErrInvalidBudget, overlap, budget)
	}
	return &Splitter{tok: tok, budget: budget, overlap: overlap}, nil
}

// Split chunks one event. An event that fits the budget yields exactly one
// chunk holding its full rendered text; larger events are split on sentence
// boundaries with the header block repeated at the top of every chunk.
func (s *Splitter) Split(e *event.Event) ([]Chunk, error) {
	header := event.RenderHeader(e) + "\n\n"
	body := event.RenderBody(e)

	meta := Metadata{
		EntryID:          e.EntryID,
		Date:             e.Date,
		Hazard:           e.Hazard,
		NormalizedHazard: e.NormalizedHazard,
		ReportedLocation: e.ReportedLocation,
		CitedLocation:    e.CitedLocation,
		Section:          e.Section,
		Keywords:         e.Keywords,
	}

	full := header + body
	if n := s.tok.Count(full); n <= s.budget {
		return s.finish(e, meta, []string{full}), nil
	}

	headerTokens := s.tok.Count(header)
	avail := s.budget - headerTokens
	if avail <= s.overlap {
		return nil, fmt.Errorf("%w: event %s header is %d tokens, budget %d",
			ErrHeaderTooLarge, e.EntryID, headerTokens, s.budget)
	}

	var (
		texts     []string
		cur       []unit
		curTokens int
	)

	flush := func() {
		if len(cur) == 0 {
			return
		}
		var b strings.Builder
		b.WriteString(header)
		for _, u := range cur {
			b.WriteString(u.text)
		}
		texts = append(texts, b.String())
	}

	for _, u := range s.units(body, avail) {
		if curTokens+u.tokens > avail && len(cur) > 0 {
			flush()
			cur, curTokens = s.overlapTail(cur)
			if curTokens+u.tokens > avail {
				// A heavy overlap would starve the new chunk; drop it.
				cur, curTokens = nil, 0
			}
		}
		cur = append(cur, u)
		curTokens += u.tokens
	}
	flush()

	return s.finish(e, meta, texts), nil
}

func (s *Splitter) finish(e *event.Event, meta Metadata, texts []string) []Chunk {
	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{
			ID:      fmt.Sprintf("%s-%d", e.EntryID, i),
			EventID: e.EntryID,
			Index:   i,
			Total:   len(texts),
			Text:    text,
			Tokens:  s.tok.Count(text),
			Meta:    meta,
		}
	}
	return chunks
}

// overlapTail returns the trailing units of a closed chunk totalling at most
// the configured overlap, to be carried into the next chunk.
func (s *Splitter) overlapTail(closed []unit) ([]unit, int) {
	var total int
	i := len(closed)
	for i > 0 && total+closed[i-1].tokens <= s.overlap {
		total += closed[i-1].tokens
		i--
	}
	tail := make([]unit, len(closed)-i)
	copy(tail, closed[i:])
	return tail, total
}

type unit struct {
	text   string
	tokens int
}

// units segments text into sentence-level pieces with separators attached,
// so concatenating them reproduces the input. A single piece larger than
// maxTokens is hard-split on whitespace.
func (s *Splitter) units(text string, maxTokens int) []unit {
	var out []unit
	for _, piece := range splitSentences(text) {
		n := s.tok.Count(piece)
		if n <= maxTokens {
			out = append(out, unit{text: piece, tokens: n})
			continue
		}
		for _, word := range hardSplit(piece, maxTokens, s.tok) {
			out = append(out, word)
		}
	}
	return out
}

// splitSentences breaks text after sentence-ending punctuation followed by
// whitespace, and after newlines. Separators stay attached to the preceding
// piece.
func splitSentences(text string) []string {
	var (
		pieces []string
		start  int
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		boundary := r == '\n' ||
			((r == '.' || r == '!' || r == '?') && i+1 < len(runes) && runes[i+1] == ' ')
		if boundary {
			end := i + 1
			if r != '\n' {
				end = i + 2 // include the trailing space
			}
			pieces = append(pieces, string(runes[start:end]))
			start = end
			i = end - 1
		}
	}
	if start < len(runes) {
		pieces = append(pieces, string(runes[start:]))
	}
	return pieces
}

// hardSplit breaks an oversized piece on whitespace into runs of at most
// maxTokens each. Last resort for pathological single-sentence input.
func hardSplit(piece string, maxTokens int, tok Tokenizer) []unit {
	words := strings.SplitAfter(piece, " ")

	var (
		out       []unit
		cur       strings.Builder
		curTokens int
	)
	for _, w := range words {
		n := tok.Count(w)
		if curTokens+n > maxTokens && cur.Len() > 0 {
			out = append(out, unit{text: cur.String(), tokens: curTokens})
			cur.Reset()
			curTokens = 0
		}
		cur.WriteString(w)
		curTokens += n
	}
	if cur.Len() > 0 {
		out = append(out, unit{text: cur.String(), tokens: curTokens})
	}
	return out
}
