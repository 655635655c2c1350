package event

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// MaxReferences is the number of (label, URL) reference pairs a snapshot row
// may carry.
const MaxReferences = 3

// maxKeywords caps the derived keyword list per event.
const maxKeywords = 15

// epiTerms are the epidemiological terms promoted to keywords when they
// appear in an event summary.
var epiTerms = []string{
	"outbreak", "cases", "deaths", "confirmed", "suspected",
	"probable", "surveillance", "alert", "epidemic", "pandemic",
	"cluster", "transmission", "infection", "disease",
}

// Reference is a cited source for an event.
type Reference struct {
	Label string
	URL   string
}

// Event is one validated surveillance record.
type Event struct {
	// EntryID is the stable external identifier, zero-padded to five digits
	// (e.g. "00123"). Unique within a snapshot.
	EntryID string

	Date             time.Time
	Hazard           string // disease/pathogen name, "Unknown" when absent
	NormalizedHazard string // lowercased, trimmed Hazard
	ReportedLocation string
	CitedLocation    string // additional locations, "N/A" when absent
	Summary          string
	Section          string // hod/dme/int/rgp
	ProgramAreas     string
	References       []Reference

	// Keywords are derived from hazard, locations and summary terms.
	Keywords []string
}

// DeriveKeywords computes the keyword set for an event: the normalized
// hazard, location fragments, and any epidemiological terms found in the
// summary. Sorted and capped at maxKeywords so the result is deterministic.
func DeriveKeywords(e *Event) []string {
	seen := make(map[string]struct{})

	add := func(kw string) {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw != "" && kw != "n/a" {
			seen[kw] = struct{}{}
		}
	}

	add(e.NormalizedHazard)

	for _, location := range []string{e.ReportedLocation, e.CitedLocation} {
		for _, part := range strings.Split(location, ",") {
			add(part)
		}
	}

	summary := strings.ToLower(e.Summary)
	for _, term := range epiTerms {
		if strings.Contains(summary, term) {
			add(term)
		}
	}

	keywords := make([]string, 0, len(seen))
	for kw := range seen {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)

	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords
}

// ContentHash returns a hex SHA-256 over every field of the event. Any field
// change produces a different hash, so the update pipeline treats any edit
// as a modification. Derived fields (keywords) are excluded; they are a
// function of the rest.
func (e *Event) ContentHash() string {
	h := sha256.New()

	// \x1f separators keep adjacent fields from colliding.
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0x1f})
	}

	write(e.EntryID)
	write(e.Date.Format("2006-01-02"))
	write(e.Hazard)
	write(e.ReportedLocation)
	write(e.CitedLocation)
	write(e.Summary)
	write(e.Section)
	write(e.ProgramAreas)
	for _, ref := range e.References {
		write(ref.Label)
		write(ref.URL)
	}

	return hex.EncodeToString(h.Sum(nil))
}
