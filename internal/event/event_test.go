package event

import (
	"slices"
	"strings"
	"testing"
	"time"
)

func sampleEvent() *Event {
	e := &Event{
		EntryID:          "00042",
		Date:             time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Hazard:           "Cholera",
		NormalizedHazard: "cholera",
		ReportedLocation: "Yemen, Sudan",
		CitedLocation:    "Aden",
		Summary:          "An outbreak of cholera with 200 confirmed cases and rising mortality. Vaccination campaign underway.",
		Section:          "int",
		ProgramAreas:     "EPR; WASH",
		References: []Reference{
			{Label: "WHO DON", URL: "https://who.int/don/cholera"},
		},
	}
	e.Keywords = DeriveKeywords(e)
	return e
}

func TestDeriveKeywords(t *testing.T) {
	e := sampleEvent()

	for _, want := range []string{"cholera", "yemen", "sudan", "aden", "outbreak", "cases", "confirmed"} {
		if !slices.Contains(e.Keywords, want) {
			t.Errorf("keywords missing %q: %v", want, e.Keywords)
		}
	}
	if !slices.IsSorted(e.Keywords) {
		t.Errorf("keywords not sorted: %v", e.Keywords)
	}
	if len(e.Keywords) > maxKeywords {
		t.Errorf("got %d keywords, cap is %d", len(e.Keywords), maxKeywords)
	}

	// Deduplicated even when a term appears in several fields.
	count := 0
	for _, k := range e.Keywords {
		if k == "cholera" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("cholera appears %d times, want 1", count)
	}
}

func TestContentHash(t *testing.T) {
	a := sampleEvent()
	b := sampleEvent()

	h1 := a.ContentHash()
	if h1 != b.ContentHash() {
		t.Fatal("identical events hash differently")
	}
	if len(h1) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(h1))
	}

	// Any content field change must change the hash.
	b.Summary += " Updated figures."
	if a.ContentHash() == b.ContentHash() {
		t.Error("summary change did not change hash")
	}

	c := sampleEvent()
	c.References = append(c.References, Reference{Label: "ProMED", URL: "https://promedmail.org/2"})
	if a.ContentHash() == c.ContentHash() {
		t.Error("reference change did not change hash")
	}

	// Keywords are derived, not content: they must not affect the hash.
	d := sampleEvent()
	d.Keywords = nil
	if a.ContentHash() != d.ContentHash() {
		t.Error("derived keywords leaked into the content hash")
	}
}

func TestRenderText(t *testing.T) {
	e := sampleEvent()
	text := RenderText(e)

	for _, want := range []string{
		"# Event #00042: Cholera",
		"**Date:** 2025-06-01",
		"**Reported Location:** Yemen, Sudan",
		"**Cited Location:** Aden",
		"**Summary:**",
		"**References:**",
		"1. **WHO DON**: https://who.int/don/cholera",
		"**Keywords:**",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("rendered text missing %q\n%s", want, text)
		}
	}

	if !strings.HasPrefix(text, RenderHeader(e)) {
		t.Error("rendered text does not start with the header block")
	}
}

func TestRenderHeader_OmitsEmptyCitedLocation(t *testing.T) {
	e := sampleEvent()
	e.CitedLocation = ""
	if strings.Contains(RenderHeader(e), "Cited Location") {
		t.Error("empty cited location should be omitted")
	}
}
