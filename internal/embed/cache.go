package embed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/epiintel/drkb/internal/log"
)

// Cache is a persistent embedding cache keyed by CacheKey. It lives in
// memory and is flushed to a single JSON file with Save; reloading the file
// across runs is what keeps unchanged events from being re-embedded.
type Cache struct {
	path   string
	logger log.Logger

	mu      sync.RWMutex
	entries map[string][]float32
	dirty   bool
}

// OpenCache loads the cache file at path, or starts empty when the file
// does not exist yet.
func OpenCache(path string, logger log.Logger) (*Cache, error) {
	c := &Cache{
		path:    path,
		logger:  logger,
		entries: make(map[string][]float32),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading embedding cache %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, fmt.Errorf("parsing embedding cache %s: %w", path, err)
	}

	logger.Debug("embedding cache loaded", "path", path, "entries", len(c.entries))
	return c, nil
}

// Get returns the cached vector for key, if present.
func (c *Cache) Get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vec, ok := c.entries[key]
	return vec, ok
}

// Put stores a vector. The entry is only durable after Save.
func (c *Cache) Put(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = vec
	c.dirty = true
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Save writes the cache to disk via a temp file and rename, so a crash
// mid-write never truncates the existing cache. No-op when nothing changed.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	data, err := json.Marshal(c.entries)
	if err != nil {
		return fmt.Errorf("encoding embedding cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o750); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing embedding cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replacing embedding cache: %w", err)
	}

	c.dirty = false
	c.logger.Debug("embedding cache saved", "path", c.path, "entries", len(c.entries))
	return nil
}
