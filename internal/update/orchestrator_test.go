package update

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/epiintel/drkb/internal/chunk"
	"github.com/epiintel/drkb/internal/index"
	"github.com/epiintel/drkb/internal/ledger"
	"github.com/epiintel/drkb/internal/log"
)

type fakeCollection struct {
	mu           sync.Mutex
	docs         []index.Document
	replaceCalls int
	replaceErr   error
}

func (f *fakeCollection) ReplaceCollection(_ context.Context, docs []index.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaceCalls++
	f.docs = docs
	return nil
}

func (f *fakeCollection) Count(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.docs)), nil
}

type stubEmbedder struct {
	mu      sync.Mutex
	calls   int
	err     error
	release chan struct{} // when non-nil, Embed blocks until closed
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	block := s.release
	err := s.err
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

type wordTokenizer struct{}

func (wordTokenizer) Count(text string) int { return len(strings.Fields(text)) }

// harness bundles an orchestrator with its fakes and temp storage.
type harness struct {
	orch       *Orchestrator
	collection *fakeCollection
	embedder   *stubEmbedder
	ledger     *ledger.Ledger
	dir        string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	led, err := ledger.Open(filepath.Join(dir, "metadata.json"), log.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	state, err := OpenHashState(filepath.Join(dir, "event_hashes.json"))
	if err != nil {
		t.Fatal(err)
	}
	splitter, err := chunk.NewSplitter(wordTokenizer{}, 512, 100)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		collection: &fakeCollection{},
		embedder:   &stubEmbedder{},
		ledger:     led,
		dir:        dir,
	}
	h.orch = New(h.collection, h.embedder, splitter, led,
		NewBackupStore(filepath.Join(dir, "backups"), 48*time.Hour, log.NewNop()),
		state, "DR data", log.NewNop())
	return h
}

func writeCSV(t *testing.T, dir string, rows ...string) string {
	t.Helper()
	lines := append([]string{"ENTRY_#,DATE,HAZARD,REPORTED_LOCATION,SUMMARY"}, rows...)
	path := filepath.Join(dir, "snapshot.csv")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_FirstLoad(t *testing.T) {
	h := newHarness(t)
	path := writeCSV(t, h.dir,
		"1,2025/01/10,Cholera,Yemen,Cholera outbreak with 200 cases.",
		"2,2025/02/11,Measles,Romania,Measles cluster in schools.",
	)

	res, err := h.orch.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Version != 1 || res.NoChanges {
		t.Errorf("result = %+v", res)
	}
	if len(res.Changes.New) != 2 {
		t.Errorf("New = %d, want 2", len(res.Changes.New))
	}
	if h.collection.replaceCalls != 1 || len(h.collection.docs) != res.Chunks {
		t.Errorf("collection: %d calls, %d docs", h.collection.replaceCalls, len(h.collection.docs))
	}

	meta := h.ledger.Metadata()
	if meta.CurrentVersion != 1 || len(meta.UpdateHistory) != 1 {
		t.Errorf("ledger = %+v", meta)
	}
	if meta.UpdateHistory[0].Status != ledger.StatusSuccess {
		t.Errorf("status = %s", meta.UpdateHistory[0].Status)
	}
	if meta.Statistics.TopHazards[0].Count != 1 {
		t.Errorf("statistics = %+v", meta.Statistics)
	}
	if res.BackupPath == "" {
		t.Error("no backup recorded")
	} else if _, err := os.Stat(res.BackupPath); err != nil {
		t.Errorf("backup missing: %v", err)
	}
	if h.orch.Stage() != StageIdle {
		t.Errorf("stage after run = %s", h.orch.Stage())
	}
}

func TestRun_NoChangesFastPath(t *testing.T) {
	h := newHarness(t)
	path := writeCSV(t, h.dir, "1,2025/01/10,Cholera,Yemen,Stable summary.")

	if _, err := h.orch.Run(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	res, err := h.orch.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if !res.NoChanges {
		t.Fatal("identical snapshot should take the no-changes path")
	}
	if h.collection.replaceCalls != 1 {
		t.Errorf("collection replaced %d times, want 1", h.collection.replaceCalls)
	}
	if got := len(h.ledger.Metadata().UpdateHistory); got != 1 {
		t.Errorf("no-change run added a history entry (%d total)", got)
	}
}

func TestRun_ModificationCreatesNewVersion(t *testing.T) {
	h := newHarness(t)

	path := writeCSV(t, h.dir, "1,2025/01/10,Cholera,Yemen,Original summary.")
	if _, err := h.orch.Run(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	path = writeCSV(t, h.dir, "1,2025/01/10,Cholera,Yemen,Updated summary with new figures.")
	res, err := h.orch.Run(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}

	if res.Version != 2 {
		t.Errorf("Version = %d, want 2", res.Version)
	}
	if len(res.Changes.Modified) != 1 || len(res.Changes.New) != 0 {
		t.Errorf("changes = %s", res.Changes.Summary())
	}
}

func TestRun_SingleFlight(t *testing.T) {
	h := newHarness(t)
	path := writeCSV(t, h.dir, "1,2025/01/10,Cholera,Yemen,Summary text.")

	h.embedder.release = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Run(context.Background(), path)
		done <- err
	}()

	// Wait until the first run reaches the blocking embed call.
	for h.orch.Stage() != StageEmbedding {
		time.Sleep(time.Millisecond)
	}

	_, err := h.orch.Run(context.Background(), path)
	if !errors.Is(err, ErrInProgress) {
		t.Fatalf("concurrent Run() = %v, want ErrInProgress", err)
	}

	close(h.embedder.release)
	if err := <-done; err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
}

func TestRun_EmbeddingFailureRecordsFailedAttempt(t *testing.T) {
	h := newHarness(t)
	h.embedder.err = fmt.Errorf("provider down")
	path := writeCSV(t, h.dir, "1,2025/01/10,Cholera,Yemen,Summary text.")

	_, err := h.orch.Run(context.Background(), path)
	if err == nil {
		t.Fatal("Run() should fail when embedding fails")
	}

	if h.collection.replaceCalls != 0 {
		t.Error("collection must not be touched on embedding failure")
	}
	meta := h.ledger.Metadata()
	if meta.CurrentVersion != 0 {
		t.Errorf("failed run advanced version to %d", meta.CurrentVersion)
	}
	if len(meta.UpdateHistory) != 1 || meta.UpdateHistory[0].Status != ledger.StatusFailed {
		t.Errorf("history = %+v", meta.UpdateHistory)
	}
	if meta.UpdateHistory[0].Error == "" {
		t.Error("failed entry missing error text")
	}
}

func TestRun_SwapFailureKeepsPreviousVersion(t *testing.T) {
	h := newHarness(t)
	path := writeCSV(t, h.dir, "1,2025/01/10,Cholera,Yemen,First load.")
	if _, err := h.orch.Run(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	h.collection.replaceErr = fmt.Errorf("database gone")
	path = writeCSV(t, h.dir, "1,2025/01/10,Cholera,Yemen,Changed summary.")

	_, err := h.orch.Run(context.Background(), path)
	if err == nil {
		t.Fatal("Run() should surface the swap failure")
	}

	if got := h.ledger.CurrentVersion(); got != 1 {
		t.Errorf("CurrentVersion = %d, want 1", got)
	}

	// The stored hashes still describe version 1, so retrying later still
	// sees the modification.
	state, err := OpenHashState(filepath.Join(h.dir, "event_hashes.json"))
	if err != nil {
		t.Fatal(err)
	}
	cs := Diff(state.Hashes(), nil)
	if len(cs.DeletedIDs) != 1 {
		t.Errorf("hash state changed despite failed swap: %+v", cs)
	}
}

func TestRun_RowErrorOnLoadedEventAborts(t *testing.T) {
	h := newHarness(t)
	path := writeCSV(t, h.dir, "1,2025/01/10,Cholera,Yemen,Loaded event.")
	if _, err := h.orch.Run(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	// Same entry id, now with an unparsable date: accepting this snapshot
	// would silently delete event 00001.
	path = writeCSV(t, h.dir,
		"1,10-01-2025,Cholera,Yemen,Loaded event.",
		"2,2025/03/01,Measles,Romania,A valid new event.",
	)

	_, err := h.orch.Run(context.Background(), path)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if h.collection.replaceCalls != 1 {
		t.Error("aborted update must not touch the collection")
	}
}

func TestRun_RowErrorOnUnknownRowIsTolerated(t *testing.T) {
	h := newHarness(t)
	path := writeCSV(t, h.dir,
		"1,2025/01/10,Cholera,Yemen,Valid event.",
		"2,not-a-date,Measles,Romania,Broken new row.",
	)

	res, err := h.orch.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Report.Clean() {
		t.Error("report should carry the row error")
	}
	if len(res.Changes.New) != 1 {
		t.Errorf("New = %d, want only the valid event", len(res.Changes.New))
	}
}
