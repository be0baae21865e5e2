// Package resolve maps a specifier plus an importing file to an
// absolute module path, per spec.md §4.4.
package resolve

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ionifyjs/ionify/internal/ionerr"
)

// DefaultExtensions is the default extension probe order.
var DefaultExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".json"}

// DefaultConditions is the package.json "exports" condition order tried
// when Options.Conditions is empty.
var DefaultConditions = []string{"import", "default"}

// Options configures a Resolver.
type Options struct {
	// Aliases maps a specifier to a replacement path. A key without "*"
	// matches only that exact specifier. A trailing "*" in both key and
	// value is a wildcard that expands once, e.g. {"@app/*": "/src/*"}.
	Aliases map[string]string
	// Extensions overrides DefaultExtensions.
	Extensions []string
	// Conditions overrides DefaultConditions.
	Conditions []string
}

// Resolver resolves specifiers against importer directories, memoizing
// every (importer, specifier) result -- including misses -- for the
// process lifetime, until Reset is called.
type Resolver struct {
	aliases    map[string]string
	extensions []string
	conditions []string

	mu   sync.Mutex
	memo map[memoKey]memoEntry
}

type memoKey struct {
	importer  string
	specifier string
}

type memoEntry struct {
	path string
	ok   bool
}

// New creates a Resolver with the given options.
func New(opts Options) *Resolver {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	conds := opts.Conditions
	if len(conds) == 0 {
		conds = DefaultConditions
	}
	return &Resolver{
		aliases:    opts.Aliases,
		extensions: exts,
		conditions: conds,
		memo:       make(map[memoKey]memoEntry),
	}
}

// Reset clears the memoization cache, e.g. after a config change.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo = make(map[memoKey]memoEntry)
}

// Resolve resolves specifier against importer (an absolute file path),
// returning a ResolveError if no candidate is found.
func (r *Resolver) Resolve(specifier, importer string) (string, error) {
	path, ok := r.TryResolve(specifier, importer)
	if !ok {
		return "", &ionerr.ResolveError{Specifier: specifier, Importer: importer}
	}
	return path, nil
}

// TryResolve resolves specifier against importer without erroring on a
// miss; ok is false if no candidate was found. Null results are cached
// the same as hits.
func (r *Resolver) TryResolve(specifier, importer string) (string, bool) {
	key := memoKey{importer: importer, specifier: specifier}

	r.mu.Lock()
	if e, ok := r.memo[key]; ok {
		r.mu.Unlock()
		return e.path, e.ok
	}
	r.mu.Unlock()

	path, ok := r.resolveUncached(specifier, importer)

	r.mu.Lock()
	r.memo[key] = memoEntry{path: path, ok: ok}
	r.mu.Unlock()

	return path, ok
}

func (r *Resolver) resolveUncached(specifier, importer string) (string, bool) {
	importerDir := filepath.Dir(importer)

	switch {
	case filepath.IsAbs(specifier):
		return r.probe(specifier)

	case strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../"):
		return r.probe(filepath.Join(importerDir, specifier))

	default:
		if path, ok := r.resolveAlias(specifier); ok {
			if resolved, ok := r.probe(path); ok {
				return resolved, true
			}
		}
		return r.resolveNodeModules(specifier, importerDir)
	}
}

// resolveAlias expands a matching alias, supporting one "*" wildcard.
func (r *Resolver) resolveAlias(specifier string) (string, bool) {
	for from, to := range r.aliases {
		if !strings.Contains(from, "*") {
			if specifier == from {
				return to, true
			}
			continue
		}
		pattern := strings.Replace(from, "*", "**", 1)
		matched, err := doublestar.Match(pattern, specifier)
		if err != nil || !matched {
			continue
		}
		prefix := strings.SplitN(from, "*", 2)[0]
		if !strings.HasPrefix(specifier, prefix) {
			continue
		}
		rest := strings.TrimPrefix(specifier, prefix)
		return strings.Replace(to, "*", rest, 1), true
	}
	return "", false
}

// probe tries path as-is, then with each configured extension, then as
// a directory's index file.
func (r *Resolver) probe(path string) (string, bool) {
	if isFile(path) {
		return path, true
	}
	for _, ext := range r.extensions {
		candidate := path + ext
		if isFile(candidate) {
			return candidate, true
		}
	}
	if isDir(path) {
		for _, ext := range r.extensions {
			candidate := filepath.Join(path, "index"+ext)
			if isFile(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

// resolveNodeModules walks up from importerDir looking for
// node_modules/<pkg>, applying package.json "exports" (the resolver's
// conditions in order, then "default") then main fields (module, main)
// then index.<ext>.
func (r *Resolver) resolveNodeModules(specifier, importerDir string) (string, bool) {
	pkgName, subpath := splitPackageSpecifier(specifier)

	for dir := importerDir; ; {
		candidate := filepath.Join(dir, "node_modules", pkgName)
		if isDir(candidate) {
			if resolved, ok := r.resolvePackage(candidate, subpath); ok {
				return resolved, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func (r *Resolver) resolvePackage(pkgDir, subpath string) (string, bool) {
	manifest := readPackageJSON(filepath.Join(pkgDir, "package.json"))

	if manifest != nil {
		if exportsPath, ok := resolveExports(manifest, subpath, r.conditions); ok {
			return r.probe(filepath.Join(pkgDir, exportsPath))
		}
	}

	if subpath != "." {
		return r.probe(filepath.Join(pkgDir, subpath))
	}

	if manifest != nil {
		for _, field := range []string{"module", "main"} {
			if v, ok := manifest[field].(string); ok && v != "" {
				if resolved, ok := r.probe(filepath.Join(pkgDir, v)); ok {
					return resolved, true
				}
			}
		}
	}

	return r.probe(filepath.Join(pkgDir, "index"))
}

func splitPackageSpecifier(specifier string) (pkgName, subpath string) {
	parts := strings.SplitN(specifier, "/", 2)
	if strings.HasPrefix(specifier, "@") && len(parts) == 2 {
		// Scoped package: @scope/name[/subpath]
		scopeAndName := strings.SplitN(parts[1], "/", 2)
		pkgName = parts[0] + "/" + scopeAndName[0]
		if len(scopeAndName) == 2 {
			return pkgName, "./" + scopeAndName[1]
		}
		return pkgName, "."
	}
	if len(parts) == 2 {
		return parts[0], "./" + parts[1]
	}
	return parts[0], "."
}

// resolveExports resolves subpath against a package.json "exports"
// field, trying conditions in the given order and falling back to
// "default".
func resolveExports(manifest map[string]interface{}, subpath string, conditions []string) (string, bool) {
	raw, ok := manifest["exports"]
	if !ok {
		return "", false
	}

	switch v := raw.(type) {
	case string:
		if subpath == "." {
			return v, true
		}
		return "", false
	case map[string]interface{}:
		// Either a conditions map for "." directly, or a map of
		// subpaths to conditions maps.
		if target, ok := v[subpath]; ok {
			return pickCondition(target, conditions)
		}
		if subpath == "." {
			return pickCondition(v, conditions)
		}
		return "", false
	}
	return "", false
}

func pickCondition(target interface{}, conditions []string) (string, bool) {
	switch v := target.(type) {
	case string:
		return v, true
	case map[string]interface{}:
		for _, cond := range conditions {
			if s, ok := v[cond].(string); ok {
				return s, true
			}
		}
		if s, ok := v["default"].(string); ok {
			return s, true
		}
	}
	return "", false
}

func readPackageJSON(path string) map[string]interface{} {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var manifest map[string]interface{}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil
	}
	return manifest
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
