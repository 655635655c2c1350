// Package ledger records knowledge-base versions: an append-only update
// history plus the statistics of the currently active collection, persisted
// as a single JSON file next to the data.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/epiintel/drkb/internal/log"
)

// UpdateStatus is the outcome of one update attempt.
type UpdateStatus string

const (
	StatusSuccess    UpdateStatus = "success"
	StatusFailed     UpdateStatus = "failed"
	StatusRolledBack UpdateStatus = "rolled_back"
)

// UpdateRecord is one entry in the update history. Failed attempts are
// recorded too; the history is append-only.
type UpdateRecord struct {
	Version         int          `json:"version"`
	Timestamp       time.Time    `json:"timestamp"`
	Status          UpdateStatus `json:"status"`
	SnapshotFile    string       `json:"snapshot_file"`
	SnapshotHash    string       `json:"snapshot_hash"`
	EmbeddingModel  string       `json:"embedding_model,omitempty"`
	UpdatedBy       string       `json:"updated_by,omitempty"`
	TotalEvents     int          `json:"total_events"`
	NewEvents       int          `json:"new_events"`
	ModifiedEvents  int          `json:"modified_events"`
	UnchangedEvents int          `json:"unchanged_events"`
	DeletedEvents   int          `json:"deleted_events"`
	Chunks          int          `json:"chunks"`
	DurationSeconds float64      `json:"duration_seconds"`
	RowErrors       []string     `json:"row_errors,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// NameCount is one entry in a ranked statistic.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DateRange spans the oldest and newest event dates.
type DateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Statistics describes the active collection.
type Statistics struct {
	TotalEvents  int         `json:"total_events"`
	TotalChunks  int         `json:"total_chunks"`
	TopHazards   []NameCount `json:"top_hazards"`
	TopLocations []NameCount `json:"top_locations"`
	DateRange    DateRange   `json:"date_range"`
}

// Metadata is the full persisted ledger state.
type Metadata struct {
	CurrentVersion int            `json:"current_version"`
	UpdatedAt      time.Time      `json:"updated_at"`
	UpdateHistory  []UpdateRecord `json:"update_history"`
	Statistics     Statistics     `json:"statistics"`
}

// Ledger owns the metadata file. Safe for concurrent use.
type Ledger struct {
	path   string
	logger log.Logger

	mu   sync.Mutex
	meta Metadata
}

// Open loads the ledger at path, or starts a fresh one when the file does
// not exist.
func Open(path string, logger log.Logger) (*Ledger, error) {
	l := &Ledger{path: path, logger: logger}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &l.meta); err != nil {
		return nil, fmt.Errorf("parsing ledger %s: %w", path, err)
	}
	return l, nil
}

// Metadata returns a copy of the current ledger state.
func (l *Ledger) Metadata() Metadata {
	l.mu.Lock()
	defer l.mu.Unlock()

	meta := l.meta
	meta.UpdateHistory = append([]UpdateRecord(nil), l.meta.UpdateHistory...)
	return meta
}

// History returns the most recent update attempts, newest first. A limit
// of 0 or less returns the whole history.
func (l *Ledger) History(limit int) []UpdateRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.meta.UpdateHistory)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]UpdateRecord, 0, n)
	for i := len(l.meta.UpdateHistory) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.meta.UpdateHistory[i])
	}
	return out
}

// CurrentVersion returns the active version, 0 before the first load.
func (l *Ledger) CurrentVersion() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.meta.CurrentVersion
}

// NextVersion returns the version number the next successful update will
// get.
func (l *Ledger) NextVersion() int {
	return l.CurrentVersion() + 1
}

// Record appends rec to the history and persists the ledger. On a
// successful update the current version advances and stats (when non-nil)
// replace the collection statistics. History entries are never rewritten.
func (l *Ledger) Record(rec UpdateRecord, stats *Statistics) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.meta.UpdateHistory = append(l.meta.UpdateHistory, rec)
	if rec.Status == StatusSuccess {
		l.meta.CurrentVersion = rec.Version
		l.meta.UpdatedAt = rec.Timestamp
		if stats != nil {
			l.meta.Statistics = *stats
		}
	}

	if err := l.save(); err != nil {
		return err
	}

	l.logger.Info("update recorded",
		"version", rec.Version, "status", rec.Status, "events", rec.TotalEvents)
	return nil
}

func (l *Ledger) save() error {
	data, err := json.MarshalIndent(l.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replacing ledger: %w", err)
	}
	return nil
}
