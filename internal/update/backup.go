package update

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/epiintel/drkb/internal/log"
)

// backupTimeFormat names backup files sortably: snapshot-20260829-143000.xlsx.
const backupTimeFormat = "20060102-150405"

// BackupStore keeps timestamped copies of uploaded snapshot files.
type BackupStore struct {
	dir       string
	retention time.Duration
	logger    log.Logger

	// now is swapped in tests.
	now func() time.Time
}

// NewBackupStore creates a store rooted at dir. Backups older than
// retention are removed by Prune.
func NewBackupStore(dir string, retention time.Duration, logger log.Logger) *BackupStore {
	return &BackupStore{dir: dir, retention: retention, logger: logger, now: time.Now}
}

// Add copies the snapshot at src into the backup directory and returns the
// backup path.
func (b *BackupStore) Add(src string) (string, error) {
	if err := os.MkdirAll(b.dir, 0o750); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	name := fmt.Sprintf("snapshot-%s%s", b.now().UTC().Format(backupTimeFormat), filepath.Ext(src))
	dst := filepath.Join(b.dir, name)

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening snapshot: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("creating backup: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("copying snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("flushing backup: %w", err)
	}

	b.logger.Debug("snapshot backed up", "path", dst)
	return dst, nil
}

// Prune removes backups older than the retention window. Called only after
// a successful update, so a failed one never costs the operator a backup.
func (b *BackupStore) Prune() error {
	entries, err := os.ReadDir(b.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("listing backups: %w", err)
	}

	cutoff := b.now().UTC().Add(-b.retention)
	for _, entry := range entries {
		stamp, ok := backupTime(entry.Name())
		if !ok || !stamp.Before(cutoff) {
			continue
		}
		path := filepath.Join(b.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			b.logger.Warn("removing expired backup failed", "path", path, "error", err)
			continue
		}
		b.logger.Debug("expired backup removed", "path", path)
	}
	return nil
}

func backupTime(name string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(name, "snapshot-")
	if !ok {
		return time.Time{}, false
	}
	if ext := filepath.Ext(rest); ext != "" {
		rest = strings.TrimSuffix(rest, ext)
	}
	stamp, err := time.Parse(backupTimeFormat, rest)
	if err != nil {
		return time.Time{}, false
	}
	return stamp, true
}
