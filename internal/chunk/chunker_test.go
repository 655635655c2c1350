package chunk

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/epiintel/drkb/internal/event"
)

// fieldTokenizer counts whitespace-separated fields. Deterministic and
// additive over concatenation, which keeps budget assertions exact.
type fieldTokenizer struct{}

func (fieldTokenizer) Count(text string) int { return len(strings.Fields(text)) }

func testEvent(sentences int) *event.Event {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "Sentence number %d reports five tokens. ", i)
	}

	e := &event.Event{
		EntryID:          "00042",
		Date:             time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Hazard:           "Cholera",
		NormalizedHazard: "cholera",
		ReportedLocation: "Yemen",
		Summary:          strings.TrimSpace(b.String()),
		Section:          "int",
	}
	e.Keywords = event.DeriveKeywords(e)
	return e
}

func TestNewSplitter_Validation(t *testing.T) {
	tests := []struct {
		name            string
		budget, overlap int
	}{
		{"zero budget", 0, 0},
		{"negative overlap", 100, -1},
		{"overlap equals budget", 100, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSplitter(fieldTokenizer{}, tt.budget, tt.overlap)
			if !errors.Is(err, ErrInvalidBudget) {
				t.Fatalf("error = %v, want ErrInvalidBudget", err)
			}
		})
	}
}

func TestSplit_SingleChunkWhenUnderBudget(t *testing.T) {
	s, err := NewSplitter(fieldTokenizer{}, 512, 100)
	if err != nil {
		t.Fatal(err)
	}

	e := testEvent(3)
	chunks, err := s.Split(e)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Text != event.RenderText(e) {
		t.Error("single chunk should hold the full rendered text")
	}
	if c.ID != "00042-0" || c.Index != 0 || c.Total != 1 {
		t.Errorf("chunk identity = %s index=%d total=%d", c.ID, c.Index, c.Total)
	}
}

func TestSplit_LargeEvent(t *testing.T) {
	const (
		budget  = 60
		overlap = 12
	)
	s, err := NewSplitter(fieldTokenizer{}, budget, overlap)
	if err != nil {
		t.Fatal(err)
	}

	e := testEvent(40) // ~240 summary tokens, forces several chunks
	chunks, err := s.Split(e)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}

	header := event.RenderHeader(e)
	for i, c := range chunks {
		if !strings.HasPrefix(c.Text, header) {
			t.Errorf("chunk %d does not repeat the header block", i)
		}
		if c.Tokens > budget {
			t.Errorf("chunk %d is %d tokens, budget %d", i, c.Tokens, budget)
		}
		if c.Index != i || c.Total != len(chunks) {
			t.Errorf("chunk %d identity: index=%d total=%d", i, c.Index, c.Total)
		}
		if c.EventID != e.EntryID || c.Meta.EntryID != e.EntryID {
			t.Errorf("chunk %d lost its event attribution", i)
		}
		if !c.Meta.Date.Equal(e.Date) || c.Meta.NormalizedHazard != "cholera" {
			t.Errorf("chunk %d metadata = %+v", i, c.Meta)
		}
	}
}

func TestSplit_OverlapCarriedForward(t *testing.T) {
	s, err := NewSplitter(fieldTokenizer{}, 60, 12)
	if err != nil {
		t.Fatal(err)
	}

	e := testEvent(40)
	chunks, err := s.Split(e)
	if err != nil {
		t.Fatal(err)
	}

	header := event.RenderHeader(e)
	for i := 1; i < len(chunks); i++ {
		prevBody := strings.TrimPrefix(chunks[i-1].Text, header)
		nextBody := strings.TrimPrefix(chunks[i].Text, header)

		// The next chunk opens with a trailing sentence of the previous one.
		sentences := splitSentences(strings.TrimSpace(prevBody))
		last := strings.TrimSpace(sentences[len(sentences)-1])
		if last == "" || !strings.Contains(nextBody, last) {
			t.Errorf("chunk %d does not carry overlap from chunk %d", i, i-1)
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	s, err := NewSplitter(fieldTokenizer{}, 60, 12)
	if err != nil {
		t.Fatal(err)
	}

	e := testEvent(25)
	a, err := s.Split(e)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Split(e)
	if err != nil {
		t.Fatal(err)
	}

	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Text != b[i].Text {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestSplit_HeaderTooLarge(t *testing.T) {
	s, err := NewSplitter(fieldTokenizer{}, 12, 4)
	if err != nil {
		t.Fatal(err)
	}

	e := testEvent(40)
	e.ReportedLocation = strings.Repeat("Somewhere ", 20)

	_, err = s.Split(e)
	if !errors.Is(err, ErrHeaderTooLarge) {
		t.Fatalf("error = %v, want ErrHeaderTooLarge", err)
	}
}

func TestSplitSentences_Reassembles(t *testing.T) {
	text := "First sentence. Second one! A third? Then a line\nbreak and the rest."
	pieces := splitSentences(text)
	if len(pieces) < 4 {
		t.Fatalf("got %d pieces: %q", len(pieces), pieces)
	}
	if got := strings.Join(pieces, ""); got != text {
		t.Errorf("pieces do not reassemble:\n got %q\nwant %q", got, text)
	}
}
