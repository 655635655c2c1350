package event

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateFormat is the single accepted date format for snapshot rows.
const DateFormat = "2006/01/02"

// RequiredColumns must all be present in a snapshot; a snapshot missing any
// of them fails with ErrSchema before any row is processed.
var RequiredColumns = []string{
	ColEntryID, ColDate, ColHazard, ColReportedLocation, ColSummary,
}

// ErrSchema indicates a snapshot whose column set is unusable.
var ErrSchema = errors.New("snapshot schema invalid")

// RowError is a validation failure on a single snapshot row. Row errors are
// collected, not fatal: the rest of the batch still extracts.
type RowError struct {
	Row     int    // 1-based data row number
	EntryID string // may be empty when the id itself is missing
	Field   string
	Reason  string
}

func (e RowError) Error() string {
	if e.EntryID != "" {
		return fmt.Sprintf("row %d (entry %s): %s: %s", e.Row, e.EntryID, e.Field, e.Reason)
	}
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Reason)
}

// ValidationReport summarizes one extraction pass.
type ValidationReport struct {
	TotalRows int
	Extracted int
	RowErrors []RowError
}

// Clean reports whether every row extracted successfully.
func (r *ValidationReport) Clean() bool { return len(r.RowErrors) == 0 }

// Summary renders the report in "412 of 415 events processed" form.
func (r *ValidationReport) Summary() string {
	if r.Clean() {
		return fmt.Sprintf("%d of %d events processed", r.Extracted, r.TotalRows)
	}

	reasons := make([]string, 0, len(r.RowErrors))
	for _, re := range r.RowErrors {
		reasons = append(reasons, re.Error())
	}
	return fmt.Sprintf("%d of %d events processed, %d errors: %s",
		r.Extracted, r.TotalRows, len(r.RowErrors), strings.Join(reasons, "; "))
}

// Extract validates snapshot rows into Events. Rows missing a required
// field or carrying an unparsable date become RowErrors in the report;
// the returned error is non-nil only for schema-level failures.
func Extract(snap *Snapshot) ([]Event, *ValidationReport, error) {
	if missing := snap.MissingColumns(RequiredColumns); len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: missing required columns: %s",
			ErrSchema, strings.Join(missing, ", "))
	}
	if len(snap.Rows) == 0 {
		return nil, nil, fmt.Errorf("%w: snapshot has no data rows", ErrSchema)
	}

	report := &ValidationReport{TotalRows: len(snap.Rows)}
	events := make([]Event, 0, len(snap.Rows))

	for _, row := range snap.Rows {
		ev, rowErr := extractRow(row)
		if rowErr != nil {
			report.RowErrors = append(report.RowErrors, *rowErr)
			continue
		}
		events = append(events, ev)
	}

	report.Extracted = len(events)
	return events, report, nil
}

func extractRow(row Row) (Event, *RowError) {
	entryID, ok := NormalizeEntryID(row.Get(ColEntryID))
	if !ok {
		return Event{}, &RowError{Row: row.Num, Field: ColEntryID, Reason: "missing or non-numeric"}
	}

	dateStr := row.Get(ColDate)
	if dateStr == "" {
		return Event{}, &RowError{Row: row.Num, EntryID: entryID, Field: ColDate, Reason: "missing"}
	}
	date, err := time.Parse(DateFormat, dateStr)
	if err != nil {
		return Event{}, &RowError{
			Row: row.Num, EntryID: entryID, Field: ColDate,
			Reason: fmt.Sprintf("%q does not match %s", dateStr, DateFormat),
		}
	}

	summary := row.Get(ColSummary)
	if summary == "" {
		return Event{}, &RowError{Row: row.Num, EntryID: entryID, Field: ColSummary, Reason: "missing"}
	}

	location := row.Get(ColReportedLocation)
	if location == "" {
		return Event{}, &RowError{Row: row.Num, EntryID: entryID, Field: ColReportedLocation, Reason: "missing"}
	}

	hazard := row.Get(ColHazard)
	if hazard == "" {
		hazard = "Unknown"
	}

	ev := Event{
		EntryID:          entryID,
		Date:             date,
		Hazard:           hazard,
		NormalizedHazard: strings.ToLower(strings.TrimSpace(hazard)),
		ReportedLocation: location,
		CitedLocation:    defaultNA(row.Get(ColCitedLocation)),
		Summary:          summary,
		Section:          row.Get(ColSection),
		ProgramAreas:     defaultNA(row.Get(ColProgramAreas)),
		References:       extractReferences(row),
	}
	ev.Keywords = DeriveKeywords(&ev)

	return ev, nil
}

// extractReferences reads up to MaxReferences (label, URL) pairs. The third
// URL column exists under both the canonical name and the upstream typo.
func extractReferences(row Row) []Reference {
	var refs []Reference
	for i := 1; i <= MaxReferences; i++ {
		label := row.Get(fmt.Sprintf("REFERENCE_%02dlab", i))
		url := row.Get(fmt.Sprintf("REFERENCE_%02durl", i))
		if url == "" {
			url = row.Get(fmt.Sprintf("REFERENCE_%02dur", i))
		}
		if label != "" && url != "" {
			refs = append(refs, Reference{Label: label, URL: url})
		}
	}
	return refs
}

// NormalizeEntryID canonicalizes a raw entry id cell to its five-digit
// zero-padded form. Excel numeric cells may surface as "123" or "123.0";
// both normalize to "00123".
func NormalizeEntryID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	// Strip a float artifact like "123.0" while rejecting true decimals.
	if dot := strings.IndexByte(raw, '.'); dot >= 0 {
		if strings.Trim(raw[dot+1:], "0") != "" {
			return "", false
		}
		raw = raw[:dot]
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return "", false
	}
	return fmt.Sprintf("%05d", n), true
}

func defaultNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
