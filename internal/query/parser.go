// Package query turns a natural-language question into metadata filters and
// an enhanced search string. Parsing is deliberately heuristic: a filter the
// parser cannot extract just falls back to unfiltered hybrid search.
package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/epiintel/drkb/internal/index"
)

// Parsed is the understander's view of one question.
type Parsed struct {
	Raw      string
	Enhanced string
	Filters  index.Filters
}

// hazardAliases maps colloquial disease names to the canonical form used in
// the hazard column. Ordered longest-match-first so "bird flu" resolves
// before the bare "flu".
var hazardAliases = []struct{ alias, canonical string }{
	{"whooping cough", "pertussis"},
	{"bird flu", "avian influenza"},
	{"sars-cov-2", "covid-19"},
	{"coronavirus", "covid-19"},
	{"monkeypox", "mpox"},
	{"covid", "covid-19"},
	{"h5n1", "avian influenza"},
	{"evd", "ebola"},
	{"flu", "influenza"},
}

// knownHazards are canonical disease names matched verbatim in queries.
// Multi-word names come first so "yellow fever" wins over "fever"-free
// single terms.
var knownHazards = []string{
	"avian influenza", "yellow fever", "lassa fever", "rift valley fever",
	"west nile virus", "hand foot and mouth disease",
	"cholera", "measles", "ebola", "marburg", "dengue", "malaria", "polio",
	"influenza", "covid-19", "mpox", "zika", "plague", "anthrax", "rabies",
	"hepatitis", "meningitis", "diphtheria", "typhoid", "pertussis",
	"tuberculosis", "leptospirosis", "chikungunya", "mers", "nipah",
}

// recentTerms trigger the rolling lookback window.
var recentTerms = []string{"recent", "latest", "current", "ongoing", "new"}

var months = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

// articles are skipped inside a location capture ("in the USA") without
// ending it.
var articles = map[string]struct{}{
	"the": {}, "a": {}, "an": {},
}

// locationStopwords end a location capture; "outbreaks in the last year"
// must not produce a location filter.
var locationStopwords = map[string]struct{}{
	"this": {}, "that": {}, "these": {},
	"last": {}, "past": {}, "recent": {}, "early": {}, "late": {},
	"year": {}, "years": {}, "month": {}, "months": {}, "week": {}, "weeks": {},
	"and": {}, "or": {}, "of": {}, "with": {}, "about": {}, "in": {},
	"from": {}, "during": {}, "since": {}, "between": {}, "on": {}, "at": {},
}

var (
	yearRe       = regexp.MustCompile(`\b(20\d{2})\b`)
	lastMonthsRe = regexp.MustCompile(`\blast\s+(\d{1,2})\s+months?\b`)
	monthRe      = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december)\b(?:\s+(20\d{2}))?`)
	locationRe   = regexp.MustCompile(`\b(?:in|from|across)\s+([a-zA-Z][a-zA-Z ]{1,40})`)
)

// Parser extracts filters from questions.
type Parser struct {
	// lookbackMonths is the window "recent" resolves to.
	lookbackMonths int
}

// NewParser creates a Parser with the given recency window in months.
func NewParser(lookbackMonths int) *Parser {
	return &Parser{lookbackMonths: lookbackMonths}
}

// Parse extracts date, hazard and location filters from q, relative to now.
func (p *Parser) Parse(q string, now time.Time) Parsed {
	lower := strings.ToLower(q)

	parsed := Parsed{Raw: q}
	parsed.Filters.DateFrom, parsed.Filters.DateTo = p.dateRange(lower, now)
	parsed.Filters.Hazard = hazard(lower)
	parsed.Filters.Location = location(lower)
	parsed.Enhanced = enhance(q, lower, parsed.Filters.Hazard)

	return parsed
}

// dateRange resolves temporal expressions, most specific first.
func (p *Parser) dateRange(lower string, now time.Time) (*time.Time, *time.Time) {
	if m := lastMonthsRe.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			from := startOfDay(now.AddDate(0, -n, 0))
			return &from, nil
		}
	}

	for _, m := range monthRe.FindAllStringSubmatch(lower, -1) {
		// "may" doubles as a verb, so it only counts as a month when a
		// year pins it down.
		if m[1] == "may" && m[2] == "" {
			continue
		}
		month := months[m[1]]
		year := now.Year()
		if m[2] != "" {
			year, _ = strconv.Atoi(m[2])
		}
		from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		to := from.AddDate(0, 1, -1)
		return &from, &to
	}

	if strings.Contains(lower, "this year") {
		from := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return &from, nil
	}
	if strings.Contains(lower, "last year") {
		from := time.Date(now.Year()-1, 1, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(now.Year()-1, 12, 31, 0, 0, 0, 0, time.UTC)
		return &from, &to
	}

	if m := yearRe.FindStringSubmatch(lower); m != nil {
		year, _ := strconv.Atoi(m[1])
		from := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC)
		return &from, &to
	}

	for _, term := range recentTerms {
		if strings.Contains(lower, term) {
			from := startOfDay(now.AddDate(0, -p.lookbackMonths, 0))
			return &from, nil
		}
	}

	return nil, nil
}

func hazard(lower string) string {
	for _, a := range hazardAliases {
		if strings.Contains(lower, a.alias) {
			return a.canonical
		}
	}
	for _, h := range knownHazards {
		if strings.Contains(lower, h) {
			return h
		}
	}
	return ""
}

// locationAliases widen abbreviations to the indexed country names.
var locationAliases = map[string]string{
	"usa": "united states",
	"us":  "united states",
	"uk":  "united kingdom",
	"uae": "united arab emirates",
	"drc": "democratic republic of the congo",
}

func location(lower string) string {
	m := locationRe.FindStringSubmatch(lower)
	if m == nil {
		return ""
	}

	var kept []string
	for _, word := range strings.Fields(m[1]) {
		if _, skip := articles[word]; skip {
			continue
		}
		if _, stop := locationStopwords[word]; stop {
			break
		}
		if _, isMonth := months[word]; isMonth {
			break
		}
		if yearRe.MatchString(word) {
			break
		}
		kept = append(kept, word)
	}

	loc := strings.Join(kept, " ")
	if widened, ok := locationAliases[loc]; ok {
		return widened
	}
	return loc
}

// enhance appends canonical terminology so lexical search sees both the
// user's wording and the indexed form.
func enhance(raw, lower, canonicalHazard string) string {
	if canonicalHazard == "" || strings.Contains(lower, canonicalHazard) {
		return raw
	}
	return fmt.Sprintf("%s %s", raw, canonicalHazard)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
