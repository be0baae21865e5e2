// Package cas implements the version-namespaced content-addressable
// store for transformed module artifacts, per spec.md §4.5.
package cas

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store is a directory tree keyed by <root>/<version_hash>/<module_hash>/<artifact>.
type Store struct {
	root string
}

// Open returns a Store rooted at root. root is created if missing.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cas: creating root %q: %w", root, err)
	}
	return &Store{root: root}, nil
}

// PathFor returns the directory holding artifacts for moduleHash under
// version.
func (s *Store) PathFor(version, moduleHash string) string {
	return filepath.Join(s.root, version, moduleHash)
}

// Exists reports whether the named artifact exists under version and
// moduleHash.
func (s *Store) Exists(version, moduleHash, name string) bool {
	_, err := os.Stat(filepath.Join(s.PathFor(version, moduleHash), name))
	return err == nil
}

// Write stores bytes under version/moduleHash/name. The write is
// atomic: bytes are written to a temp file in the same directory and
// renamed into place, so a concurrent reader never observes a partial
// artifact. Writing identical bytes twice is a no-op from the outside.
func (s *Store) Write(version, moduleHash, name string, data []byte) error {
	dir := s.PathFor(version, moduleHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cas: creating %q: %w", dir, err)
	}

	dst := filepath.Join(dir, name)
	tmp := filepath.Join(dir, "."+name+"."+uuid.NewString()+".tmp")

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cas: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cas: renaming into place: %w", err)
	}
	return nil
}

// Read returns the bytes stored under version/moduleHash/name, or nil
// (no error) if the artifact does not exist.
func (s *Store) Read(version, moduleHash, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.PathFor(version, moduleHash), name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cas: reading %q/%q/%q: %w", version, moduleHash, name, err)
	}
	return data, nil
}

// GC deletes the entire directory tree for version, reclaiming every
// artifact produced under a now-stale configuration. Cache invalidation
// after a config change is otherwise free: a new version simply sees an
// empty directory, so GC is only needed to reclaim disk space.
func (s *Store) GC(version string) error {
	dir := filepath.Join(s.root, version)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("cas: gc %q: %w", version, err)
	}
	return nil
}

// Versions returns the set of version directories currently present
// under root.
func (s *Store) Versions() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cas: listing versions: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
