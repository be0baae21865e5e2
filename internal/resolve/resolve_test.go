package resolve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ionifyjs/ionify/internal/ionerr"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestResolveRelativeWithExtensionProbing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "util.ts"), "export const x = 1")
	importer := filepath.Join(dir, "main.ts")
	writeFile(t, importer, "import './util'")

	r := New(Options{})
	got, err := r.Resolve("./util", importer)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "util.ts"), got)
}

func TestResolveRelativeToDirectoryIndex(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "widgets", "index.tsx"), "export default 1")
	importer := filepath.Join(dir, "main.ts")

	r := New(Options{})
	got, err := r.Resolve("./widgets", importer)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "widgets", "index.tsx"), got)
}

func TestResolveAliasWildcard(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "components", "Button.tsx"), "export default 1")
	importer := filepath.Join(dir, "main.ts")

	r := New(Options{Aliases: map[string]string{
		"@app/*": filepath.Join(dir, "src") + "/*",
	}})
	got, err := r.Resolve("@app/components/Button", importer)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "src", "components", "Button.tsx"), got)
}

func TestResolveNodeModulesWalksUpAndUsesExportsMap(t *testing.T) {
	dir := t.TempDir()
	pkgDir := filepath.Join(dir, "node_modules", "leftpad")
	writeFile(t, filepath.Join(pkgDir, "package.json"), `{
		"exports": {
			".": { "import": "./esm/index.js", "default": "./cjs/index.js" }
		}
	}`)
	writeFile(t, filepath.Join(pkgDir, "esm", "index.js"), "export default 1")
	importer := filepath.Join(dir, "src", "nested", "main.ts")

	r := New(Options{})
	got, err := r.Resolve("leftpad", importer)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(pkgDir, "esm", "index.js"), got)
}

func TestResolveNodeModulesScopedPackageSubpath(t *testing.T) {
	dir := t.TempDir()
	pkgDir := filepath.Join(dir, "node_modules", "@scope", "widgets")
	writeFile(t, filepath.Join(pkgDir, "button.js"), "export default 1")
	importer := filepath.Join(dir, "main.ts")

	r := New(Options{})
	got, err := r.Resolve("@scope/widgets/button", importer)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(pkgDir, "button.js"), got)
}

func TestResolveNodeModulesFallsBackToMainField(t *testing.T) {
	dir := t.TempDir()
	pkgDir := filepath.Join(dir, "node_modules", "oldpkg")
	writeFile(t, filepath.Join(pkgDir, "package.json"), `{"main": "./lib/entry.js"}`)
	writeFile(t, filepath.Join(pkgDir, "lib", "entry.js"), "module.exports = 1")
	importer := filepath.Join(dir, "main.ts")

	r := New(Options{})
	got, err := r.Resolve("oldpkg", importer)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(pkgDir, "lib", "entry.js"), got)
}

func TestResolveMissReturnsResolveError(t *testing.T) {
	dir := t.TempDir()
	importer := filepath.Join(dir, "main.ts")

	r := New(Options{})
	_, err := r.Resolve("nonexistent-pkg", importer)
	require.Error(t, err)
	var resolveErr *ionerr.ResolveError
	require.ErrorAs(t, err, &resolveErr)
	require.Equal(t, "nonexistent-pkg", resolveErr.Specifier)
}

func TestTryResolveMissIsMemoized(t *testing.T) {
	dir := t.TempDir()
	importer := filepath.Join(dir, "main.ts")

	r := New(Options{})
	_, ok := r.TryResolve("./missing", importer)
	require.False(t, ok)

	key := memoKey{importer: importer, specifier: "./missing"}
	r.mu.Lock()
	entry, cached := r.memo[key]
	r.mu.Unlock()
	require.True(t, cached)
	require.False(t, entry.ok)
}

func TestTryResolveHitIsMemoizedAcrossFilesystemChanges(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "util.ts")
	writeFile(t, target, "export const x = 1")
	importer := filepath.Join(dir, "main.ts")

	r := New(Options{})
	got, ok := r.TryResolve("./util", importer)
	require.True(t, ok)
	require.Equal(t, target, got)

	require.NoError(t, os.Remove(target))

	got2, ok2 := r.TryResolve("./util", importer)
	require.True(t, ok2)
	require.Equal(t, target, got2)
}

func TestResetClearsMemoCache(t *testing.T) {
	dir := t.TempDir()
	importer := filepath.Join(dir, "main.ts")

	r := New(Options{})
	_, ok := r.TryResolve("./missing", importer)
	require.False(t, ok)

	r.Reset()

	r.mu.Lock()
	n := len(r.memo)
	r.mu.Unlock()
	require.Zero(t, n)
}
