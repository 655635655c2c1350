package event

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// snapshotFrom builds a Snapshot from a header and data rows without going
// through a file.
func snapshotFrom(header []string, rows ...[]string) *Snapshot {
	records := append([][]string{header}, rows...)
	return fromRecords("test.csv", records)
}

var fullHeader = []string{
	ColEntryID, ColDate, ColHazard, ColReportedLocation, ColCitedLocation,
	ColSummary, ColSection, ColProgramAreas,
	"REFERENCE_01lab", "REFERENCE_01url",
	"REFERENCE_02lab", "REFERENCE_02url",
	"REFERENCE_03lab", "REFERENCE_03ur",
}

func TestExtract(t *testing.T) {
	snap := snapshotFrom(fullHeader,
		[]string{"123", "2025/09/15", "Ebola", "Democratic Republic of Congo", "Uganda",
			"45 confirmed cases and 12 deaths reported in an ongoing outbreak.", "int", "EPR",
			"WHO", "https://who.int/ebola", "", "", "ProMED", "https://promedmail.org/1"},
	)

	events, report, err := Extract(snap)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !report.Clean() {
		t.Fatalf("report not clean: %s", report.Summary())
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	ev := events[0]
	if ev.EntryID != "00123" {
		t.Errorf("EntryID = %q, want zero-padded %q", ev.EntryID, "00123")
	}
	if want := time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC); !ev.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", ev.Date, want)
	}
	if ev.NormalizedHazard != "ebola" {
		t.Errorf("NormalizedHazard = %q, want %q", ev.NormalizedHazard, "ebola")
	}
	if len(ev.References) != 2 {
		t.Fatalf("got %d references, want 2 (third via typo column)", len(ev.References))
	}
	if ev.References[1].URL != "https://promedmail.org/1" {
		t.Errorf("typo-column reference not read: %+v", ev.References[1])
	}
}

func TestExtract_RowErrorsCollected(t *testing.T) {
	snap := snapshotFrom(fullHeader,
		[]string{"1", "2025/01/10", "Measles", "Romania", "", "Cluster of cases.", "hod", ""},
		[]string{"", "2025/01/11", "Cholera", "Yemen", "", "Summary here.", "hod", ""},         // missing id
		[]string{"3", "11-01-2025", "Cholera", "Yemen", "", "Summary here.", "hod", ""},        // bad date
		[]string{"4", "2025/01/12", "Dengue", "", "", "Summary here.", "hod", ""},              // missing location
		[]string{"5", "2025/01/13", "Mpox", "Nigeria", "", "", "hod", ""},                      // missing summary
		[]string{"6", "2025/01/14", "", "Brazil", "", "Hazard left blank on purpose.", "", ""}, // hazard optional
	)

	events, report, err := Extract(snap)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].Hazard != "Unknown" {
		t.Errorf("blank hazard = %q, want %q", events[1].Hazard, "Unknown")
	}

	if len(report.RowErrors) != 4 {
		t.Fatalf("got %d row errors, want 4: %s", len(report.RowErrors), report.Summary())
	}
	if report.TotalRows != 6 || report.Extracted != 2 {
		t.Errorf("report counts = %d/%d, want 2/6", report.Extracted, report.TotalRows)
	}
	if !strings.Contains(report.Summary(), "2 of 6 events processed, 4 errors") {
		t.Errorf("unexpected summary: %s", report.Summary())
	}

	// The bad-date error should carry field and entry id for the upload report.
	badDate := report.RowErrors[1]
	if badDate.Field != ColDate || badDate.EntryID != "00003" {
		t.Errorf("bad date error = %+v", badDate)
	}
}

func TestExtract_SchemaError(t *testing.T) {
	snap := snapshotFrom(
		[]string{ColEntryID, ColDate, "SOMETHING_ELSE"},
		[]string{"1", "2025/01/01", "x"},
	)

	_, _, err := Extract(snap)
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("Extract() error = %v, want ErrSchema", err)
	}
	for _, col := range []string{ColHazard, ColReportedLocation, ColSummary} {
		if !strings.Contains(err.Error(), col) {
			t.Errorf("error %q does not name missing column %s", err, col)
		}
	}
}

func TestExtract_EmptySnapshot(t *testing.T) {
	snap := snapshotFrom(fullHeader)

	_, _, err := Extract(snap)
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("Extract() on empty snapshot = %v, want ErrSchema", err)
	}
}

func TestNormalizeEntryID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"123", "00123", true},
		{"00123", "00123", true},
		{"123.0", "00123", true}, // Excel float artifact
		{" 7 ", "00007", true},
		{"123.5", "", false},
		{"", "", false},
		{"abc", "", false},
		{"-3", "", false},
	}

	for _, tt := range tests {
		got, ok := NormalizeEntryID(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeEntryID(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestReadSnapshot_CSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.csv")

	content := strings.Join([]string{
		"ENTRY_#,DATE,HAZARD,REPORTED_LOCATION,SUMMARY",
		`1,2025/03/01,Measles,France,"Twelve cases, one hospitalized."`,
		"2,2025/03/02,Cholera,Haiti,Ongoing outbreak.",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	snap, err := ReadSnapshot(path, "ignored")
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}
	if len(snap.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(snap.Rows))
	}
	if got := snap.Rows[0].Get(ColSummary); got != "Twelve cases, one hospitalized." {
		t.Errorf("quoted cell = %q", got)
	}
	if missing := snap.MissingColumns(RequiredColumns); len(missing) != 0 {
		t.Errorf("unexpected missing columns: %v", missing)
	}
}

func TestReadSnapshot_UnsupportedFormat(t *testing.T) {
	_, err := ReadSnapshot("events.parquet", "")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestFileHash_Stable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.csv")
	if err := os.WriteFile(path, []byte("ENTRY_#,DATE\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	h1, err := FileHash(path)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := FileHash(path)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 || len(h1) != 64 {
		t.Errorf("hashes differ or malformed: %q vs %q", h1, h2)
	}
}
