package event

import (
	"fmt"
	"strings"
)

// RenderHeader renders the metadata block that identifies an event. The
// chunker repeats this block at the top of every chunk so each chunk is
// self-describing.
func RenderHeader(e *Event) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Event #%s: %s", e.EntryID, e.Hazard)
	fmt.Fprintf(&b, "\n**Date:** %s", e.Date.Format("2006-01-02"))
	fmt.Fprintf(&b, "\n**Reported Location:** %s", e.ReportedLocation)

	if e.CitedLocation != "" && e.CitedLocation != "N/A" {
		fmt.Fprintf(&b, "\n**Cited Location:** %s", e.CitedLocation)
	}

	return b.String()
}

// RenderBody renders everything below the header: the summary, the
// classification block, references and keywords.
func RenderBody(e *Event) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**Summary:**\n%s", e.Summary)

	b.WriteString("\n\n**Classification:**")
	fmt.Fprintf(&b, "\n- Section: %s", e.Section)
	if e.ProgramAreas != "" && e.ProgramAreas != "N/A" {
		fmt.Fprintf(&b, "\n- Program Areas: %s", e.ProgramAreas)
	}

	if len(e.References) > 0 {
		b.WriteString("\n\n**References:**")
		for i, ref := range e.References {
			fmt.Fprintf(&b, "\n%d. **%s**: %s", i+1, ref.Label, ref.URL)
		}
	}

	if len(e.Keywords) > 0 {
		fmt.Fprintf(&b, "\n\n**Keywords:** %s", strings.Join(e.Keywords, ", "))
	}

	return b.String()
}

// RenderText renders the full searchable Markdown form of an event.
func RenderText(e *Event) string {
	return RenderHeader(e) + "\n\n" + RenderBody(e)
}
