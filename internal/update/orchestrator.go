package update

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/epiintel/drkb/internal/chunk"
	"github.com/epiintel/drkb/internal/embed"
	"github.com/epiintel/drkb/internal/event"
	"github.com/epiintel/drkb/internal/index"
	"github.com/epiintel/drkb/internal/ledger"
	"github.com/epiintel/drkb/internal/log"
)

// Stage is the orchestrator's current position in the update pipeline.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageValidating Stage = "validating"
	StageDiffing    Stage = "diffing"
	StageBackingUp  Stage = "backing_up"
	StageEmbedding  Stage = "embedding"
	StageSwapping   Stage = "swapping"
	StageRecording  Stage = "recording"
)

func (s Stage) String() string { return string(s) }

var (
	// ErrInProgress indicates a second update was started while one is
	// running. Updates are single-flight.
	ErrInProgress = errors.New("an update is already running")

	// ErrValidation indicates row errors that would silently delete
	// events already in the loaded collection.
	ErrValidation = errors.New("snapshot validation failed")
)

// Collection is the index surface the orchestrator needs.
type Collection interface {
	ReplaceCollection(ctx context.Context, docs []index.Document) error
	Count(ctx context.Context) (int64, error)
}

// Result summarizes one completed update run.
type Result struct {
	Version    int
	NoChanges  bool
	Report     *event.ValidationReport
	Changes    ChangeSet
	Chunks     int
	BackupPath string
}

// Orchestrator drives the update pipeline. A single instance serializes
// updates; concurrent Run calls beyond the first fail fast with
// ErrInProgress.
type Orchestrator struct {
	collection Collection
	embedder   embed.Embedder
	splitter   *chunk.Splitter
	ledger     *ledger.Ledger
	backups    *BackupStore
	state      *HashState
	worksheet  string
	model      string
	runBy      string // set at the top of Run, under the busy gate
	logger     log.Logger

	busy atomic.Bool

	mu    sync.Mutex
	stage Stage
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithEmbeddingModel records the embedding model name on every version.
func WithEmbeddingModel(model string) Option {
	return func(o *Orchestrator) { o.model = model }
}

// New wires the update pipeline.
func New(collection Collection, embedder embed.Embedder, splitter *chunk.Splitter,
	led *ledger.Ledger, backups *BackupStore, state *HashState,
	worksheet string, logger log.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		collection: collection,
		embedder:   embedder,
		splitter:   splitter,
		ledger:     led,
		backups:    backups,
		state:      state,
		worksheet:  worksheet,
		logger:     logger,
		stage:      StageIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Stage returns the pipeline stage the orchestrator is currently in.
func (o *Orchestrator) Stage() Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stage
}

func (o *Orchestrator) setStage(s Stage) {
	o.mu.Lock()
	o.stage = s
	o.mu.Unlock()
	o.logger.Debug("update stage", "stage", s)
}

// RunOption annotates a single update run.
type RunOption func(*runInfo)

type runInfo struct {
	by string
}

// WithUpdatedBy records who triggered the update in the version ledger.
func WithUpdatedBy(who string) RunOption {
	return func(ri *runInfo) { ri.by = who }
}

// Run executes one full update from the snapshot file at path.
func (o *Orchestrator) Run(ctx context.Context, path string, opts ...RunOption) (*Result, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, ErrInProgress
	}
	defer o.busy.Store(false)
	defer o.setStage(StageIdle)

	var ri runInfo
	for _, opt := range opts {
		opt(&ri)
	}
	// Safe to store on the orchestrator: the busy gate serializes runs.
	o.runBy = ri.by

	start := time.Now()
	version := o.ledger.NextVersion()

	o.setStage(StageValidating)
	snapHash, err := event.FileHash(path)
	if err != nil {
		return nil, o.fail(version, path, "", nil, start, err)
	}
	snap, err := event.ReadSnapshot(path, o.worksheet)
	if err != nil {
		return nil, o.fail(version, path, snapHash, nil, start, err)
	}
	events, report, err := event.Extract(snap)
	if err != nil {
		return nil, o.fail(version, path, snapHash, nil, start, err)
	}
	o.logger.Info("snapshot validated", "path", path, "summary", report.Summary())

	o.setStage(StageDiffing)
	previous := o.state.Hashes()
	if err := guardRowErrors(report, previous); err != nil {
		return nil, o.fail(version, path, snapHash, report, start, err)
	}
	changes := Diff(previous, events)
	o.logger.Info("snapshot diffed", "changes", changes.Summary())

	count, err := o.collection.Count(ctx)
	if err != nil {
		return nil, o.fail(version, path, snapHash, report, start, err)
	}
	if count > 0 && !changes.HasChanges() {
		o.logger.Info("no changes detected, skipping update")
		return &Result{NoChanges: true, Report: report, Changes: changes}, nil
	}

	o.setStage(StageBackingUp)
	backupPath, err := o.backups.Add(path)
	if err != nil {
		return nil, o.fail(version, path, snapHash, report, start, err)
	}

	o.setStage(StageEmbedding)
	docs, err := o.buildDocuments(ctx, events)
	if err != nil {
		return nil, o.fail(version, path, snapHash, report, start, err)
	}

	o.setStage(StageSwapping)
	if err := o.collection.ReplaceCollection(ctx, docs); err != nil {
		// The previous generation stays active; nothing to roll back.
		return nil, o.fail(version, path, snapHash, report, start, err)
	}

	o.setStage(StageRecording)
	if err := o.state.Replace(events); err != nil {
		return nil, o.fail(version, path, snapHash, report, start, err)
	}

	stats := ledger.ComputeStatistics(events, len(docs))
	rec := o.newRecord(version, path, snapHash, report, start)
	rec.Status = ledger.StatusSuccess
	rec.TotalEvents = len(events)
	rec.NewEvents = len(changes.New)
	rec.ModifiedEvents = len(changes.Modified)
	rec.UnchangedEvents = len(changes.Unchanged)
	rec.DeletedEvents = len(changes.DeletedIDs)
	rec.Chunks = len(docs)
	if err := o.ledger.Record(rec, &stats); err != nil {
		return nil, fmt.Errorf("collection swapped but recording version %d failed: %w", version, err)
	}

	if err := o.backups.Prune(); err != nil {
		o.logger.Warn("backup pruning failed", "error", err)
	}

	o.logger.Info("update complete",
		"version", version, "events", len(events), "chunks", len(docs),
		"elapsed", time.Since(start))

	return &Result{
		Version:    version,
		Report:     report,
		Changes:    changes,
		Chunks:     len(docs),
		BackupPath: backupPath,
	}, nil
}

// buildDocuments chunks and embeds the full event set. The embedding cache
// makes re-embedding unchanged events cheap; embedding everything keeps the
// swap a complete replacement.
func (o *Orchestrator) buildDocuments(ctx context.Context, events []event.Event) ([]index.Document, error) {
	var chunks []chunk.Chunk
	for i := range events {
		cs, err := o.splitter.Split(&events[i])
		if err != nil {
			return nil, fmt.Errorf("chunking event %s: %w", events[i].EntryID, err)
		}
		chunks = append(chunks, cs...)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := o.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
	}

	docs := make([]index.Document, len(chunks))
	for i := range chunks {
		docs[i] = index.Document{Chunk: chunks[i], Embedding: vectors[i]}
	}
	return docs, nil
}

// guardRowErrors blocks an update whose invalid rows would make
// already-loaded events vanish from the collection as phantom deletions.
// Errors on rows never seen before are reported but do not block.
func guardRowErrors(report *event.ValidationReport, previous map[string]string) error {
	for _, re := range report.RowErrors {
		if re.EntryID == "" {
			continue
		}
		if _, loaded := previous[re.EntryID]; loaded {
			return fmt.Errorf("%w: row %d would drop loaded event %s (%s: %s)",
				ErrValidation, re.Row, re.EntryID, re.Field, re.Reason)
		}
	}
	return nil
}

func (o *Orchestrator) newRecord(version int, path, hash string, report *event.ValidationReport, start time.Time) ledger.UpdateRecord {
	rec := ledger.UpdateRecord{
		Version:         version,
		Timestamp:       start.UTC(),
		SnapshotFile:    path,
		SnapshotHash:    hash,
		EmbeddingModel:  o.model,
		UpdatedBy:       o.runBy,
		DurationSeconds: time.Since(start).Seconds(),
	}
	if report != nil {
		rec.TotalEvents = report.Extracted
		for _, re := range report.RowErrors {
			rec.RowErrors = append(rec.RowErrors, re.Error())
		}
	}
	return rec
}

// fail records the aborted attempt in the ledger and returns the original
// error. Failed attempts never advance the version.
func (o *Orchestrator) fail(version int, path, hash string, report *event.ValidationReport, start time.Time, cause error) error {
	cause = fmt.Errorf("%s stage: %w", o.Stage(), cause)

	rec := o.newRecord(version, path, hash, report, start)
	rec.Status = ledger.StatusFailed
	rec.Error = cause.Error()

	if err := o.ledger.Record(rec, nil); err != nil {
		o.logger.Error("recording failed update attempt", "error", err)
	}
	return cause
}
