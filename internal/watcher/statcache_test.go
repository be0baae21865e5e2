package watcher

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStatCacheHitsOnUnchangedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	c := NewStatCache()
	d1 := c.DigestFor(path, info, []byte("hello"))
	d2 := c.DigestFor(path, info, []byte("hello"))
	if d1 != d2 {
		t.Fatalf("expected cached digest to be stable")
	}
}

func TestStatCacheInvalidate(t *testing.T) {
	c := NewStatCache()
	c.entries["x"] = statEntry{size: 1, mtime: 1}
	c.Invalidate("x")
	if _, ok := c.entries["x"]; ok {
		t.Fatalf("expected entry to be removed")
	}
}
