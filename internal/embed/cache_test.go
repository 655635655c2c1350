package embed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/epiintel/drkb/internal/log"
)

func TestCache_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "embeddings.json")

	c, err := OpenCache(path, log.NewNop())
	if err != nil {
		t.Fatalf("OpenCache() error = %v", err)
	}

	key := CacheKey("text-embedding-3-small", 3, "cholera outbreak in Yemen")
	if _, ok := c.Get(key); ok {
		t.Fatal("empty cache reported a hit")
	}

	c.Put(key, []float32{0.1, 0.2, 0.3})
	if err := c.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// A fresh open must see the persisted entry.
	c2, err := OpenCache(path, log.NewNop())
	if err != nil {
		t.Fatalf("OpenCache() after save error = %v", err)
	}
	vec, ok := c2.Get(key)
	if !ok || len(vec) != 3 || vec[1] != 0.2 {
		t.Fatalf("persisted entry = %v, %v", vec, ok)
	}
	if c2.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c2.Len())
	}
}

func TestCache_SaveIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.json")

	c, err := OpenCache(path, log.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	c.Put("k", []float32{1})
	if err := c.Save(); err != nil {
		t.Fatal(err)
	}

	// No temp file may survive a successful save.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestCache_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenCache(path, log.NewNop()); err == nil {
		t.Fatal("OpenCache() accepted a corrupt cache file")
	}
}

func TestCacheKey(t *testing.T) {
	base := CacheKey("text-embedding-3-small", 1536, "some text")

	tests := []struct {
		name string
		key  string
	}{
		{"different text", CacheKey("text-embedding-3-small", 1536, "other text")},
		{"different model", CacheKey("text-embedding-3-large", 1536, "some text")},
		{"different dimensions", CacheKey("text-embedding-3-small", 256, "some text")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.key == base {
				t.Error("key collision")
			}
		})
	}

	if CacheKey("text-embedding-3-small", 1536, "some text") != base {
		t.Error("key not deterministic")
	}
}
