package update

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/epiintel/drkb/internal/event"
)

// HashState persists the content hashes of the loaded version's events, so
// the next update can be diffed without re-reading the old snapshot.
type HashState struct {
	path string

	mu     sync.Mutex
	hashes map[string]string
}

// OpenHashState loads the hash file at path, or starts empty.
func OpenHashState(path string) (*HashState, error) {
	s := &HashState{path: path, hashes: make(map[string]string)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading hash state %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.hashes); err != nil {
		return nil, fmt.Errorf("parsing hash state %s: %w", path, err)
	}
	return s, nil
}

// Hashes returns a copy of the entry-id to content-hash map.
func (s *HashState) Hashes() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.hashes))
	for id, h := range s.hashes {
		out[id] = h
	}
	return out
}

// Replace overwrites the state with the hashes of events and persists it
// atomically.
func (s *HashState) Replace(events []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashes := make(map[string]string, len(events))
	for i := range events {
		hashes[events[i].EntryID] = events[i].ContentHash()
	}

	data, err := json.Marshal(hashes)
	if err != nil {
		return fmt.Errorf("encoding hash state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing hash state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing hash state: %w", err)
	}

	s.hashes = hashes
	return nil
}
