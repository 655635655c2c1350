package update

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/epiintel/drkb/internal/log"
)

func writeSnapshot(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("ENTRY_#,DATE\n1,2025/01/01\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBackupStore_Add(t *testing.T) {
	dir := t.TempDir()
	src := writeSnapshot(t, dir, "upload.xlsx")

	b := NewBackupStore(filepath.Join(dir, "backups"), 48*time.Hour, log.NewNop())
	b.now = func() time.Time { return time.Date(2026, 8, 29, 14, 30, 0, 0, time.UTC) }

	dst, err := b.Add(src)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if filepath.Base(dst) != "snapshot-20260829-143000.xlsx" {
		t.Errorf("backup name = %s", filepath.Base(dst))
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := os.ReadFile(src)
	if string(got) != string(want) {
		t.Error("backup content differs from source")
	}
}

func TestBackupStore_PruneKeepsRecent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backups")
	b := NewBackupStore(dir, 48*time.Hour, log.NewNop())

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	// One expired, one fresh, one foreign file that must be left alone.
	for _, name := range []string{
		"snapshot-20260820-080000.xlsx", // 9 days old
		"snapshot-20260829-090000.xlsx", // 3 hours old
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	if err := b.Prune(); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "snapshot-20260820-080000.xlsx")); !os.IsNotExist(err) {
		t.Error("expired backup survived pruning")
	}
	for _, name := range []string{"snapshot-20260829-090000.xlsx", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s should survive pruning: %v", name, err)
		}
	}
}

func TestBackupStore_PruneMissingDir(t *testing.T) {
	b := NewBackupStore(filepath.Join(t.TempDir(), "never-created"), time.Hour, log.NewNop())
	if err := b.Prune(); err != nil {
		t.Fatalf("Prune() on missing dir = %v, want nil", err)
	}
}
