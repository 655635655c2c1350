package event

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Snapshot column names. REFERENCE_03ur (not url) preserves a typo in the
// upstream workbook template; both spellings are accepted on read.
const (
	ColEntryID          = "ENTRY_#"
	ColDate             = "DATE"
	ColHazard           = "HAZARD"
	ColReportedLocation = "REPORTED_LOCATION"
	ColCitedLocation    = "CITED_LOCATION"
	ColSummary          = "SUMMARY"
	ColSection          = "SECTION"
	ColProgramAreas     = "PROGRAM_AREAS"
)

// ErrUnsupportedFormat indicates a snapshot file extension this package
// cannot read.
var ErrUnsupportedFormat = errors.New("unsupported snapshot format")

// Row is one raw data row of a snapshot, keyed by column header.
type Row struct {
	// Num is the 1-based data row number, excluding the header row.
	Num   int
	Cells map[string]string
}

// Get returns the trimmed cell value for a column, or "" when absent.
func (r Row) Get(column string) string {
	return strings.TrimSpace(r.Cells[column])
}

// Snapshot is a raw tabular snapshot before validation.
type Snapshot struct {
	Path    string
	Columns []string
	Rows    []Row
}

// MissingColumns returns the subset of required that the snapshot lacks.
func (s *Snapshot) MissingColumns(required []string) []string {
	present := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		present[c] = struct{}{}
	}

	var missing []string
	for _, c := range required {
		if _, ok := present[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// ReadSnapshot loads a snapshot from an .xlsx or .csv file. The worksheet
// argument only applies to Excel files.
func ReadSnapshot(path, worksheet string) (*Snapshot, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx":
		return readXLSX(path, worksheet)
	case ".csv":
		return readCSV(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func readXLSX(path, worksheet string) (*Snapshot, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook %s: %w", path, err)
	}
	defer f.Close()

	rows, err := f.GetRows(worksheet)
	if err != nil {
		return nil, fmt.Errorf("reading worksheet %q (available: %v): %w",
			worksheet, f.GetSheetList(), err)
	}

	return fromRecords(path, rows), nil
}

func readCSV(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // rows may be ragged, same as Excel exports

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
		}
		records = append(records, record)
	}

	return fromRecords(path, records), nil
}

// fromRecords builds a Snapshot from raw records, using the first record as
// the header row.
func fromRecords(path string, records [][]string) *Snapshot {
	snap := &Snapshot{Path: path}
	if len(records) == 0 {
		return snap
	}

	for _, h := range records[0] {
		snap.Columns = append(snap.Columns, strings.TrimSpace(h))
	}

	for i, record := range records[1:] {
		cells := make(map[string]string, len(snap.Columns))
		for j, col := range snap.Columns {
			if j < len(record) {
				cells[col] = record[j]
			}
		}
		snap.Rows = append(snap.Rows, Row{Num: i + 1, Cells: cells})
	}

	return snap
}

// FileHash returns the hex SHA-256 of a snapshot file, used for recording
// which source file produced a version.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
