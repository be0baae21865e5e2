package watcher

import (
	"os"
	"sync"

	"github.com/ionifyjs/ionify/internal/hashutil"
)

// StatCache avoids rehashing unchanged files by keying digests on
// (path, size, mtime), grounded on ivcs/internal/cache's file-digest
// cache idiom. It is a standalone in-memory helper: the Watcher's
// polling fallback compares size and mtime directly and does not use
// it.
type StatCache struct {
	mu      sync.Mutex
	entries map[string]statEntry
}

type statEntry struct {
	size   int64
	mtime  int64
	digest hashutil.Hash
}

// NewStatCache creates an empty StatCache.
func NewStatCache() *StatCache {
	return &StatCache{entries: make(map[string]statEntry)}
}

// DigestFor returns the cached digest for path if its current size and
// mtime still match, or computes and caches a fresh one from content
// otherwise.
func (c *StatCache) DigestFor(path string, info os.FileInfo, content []byte) hashutil.Hash {
	size := info.Size()
	mtime := info.ModTime().UnixNano()

	c.mu.Lock()
	if e, ok := c.entries[path]; ok && e.size == size && e.mtime == mtime {
		c.mu.Unlock()
		return e.digest
	}
	c.mu.Unlock()

	digest := hashutil.HashBytes(content)

	c.mu.Lock()
	c.entries[path] = statEntry{size: size, mtime: mtime, digest: digest}
	c.mu.Unlock()

	return digest
}

// Invalidate removes path from the cache, e.g. after a delete event.
func (c *StatCache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}
