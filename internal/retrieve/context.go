package retrieve

import (
	"fmt"
	"regexp"
	"strings"
)

// citationRe matches event citations of the form #00123.
var citationRe = regexp.MustCompile(`#(\d{5})`)

// FormatContext renders retrieved chunks as a numbered document block,
// ready to be handed to an answer generator or shown to the user. Each
// document is attributed to its event so citations can use the #ID form.
func FormatContext(results []Result) string {
	var b strings.Builder
	for i, res := range results {
		fmt.Fprintf(&b, "=== Document %d (Event #%s) ===\n", i+1, res.Hit.EventID)
		b.WriteString(res.Hit.Content)
		if i < len(results)-1 {
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

// CitedEventIDs extracts the distinct event ids cited in text, in order of
// first appearance.
func CitedEventIDs(text string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, m := range citationRe.FindAllStringSubmatch(text, -1) {
		id := m[1]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
