package dispatcher

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var textModuleExtensions = map[string]bool{
	".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".mjs": true, ".cjs": true, ".html": true,
}

func isTextModuleExt(ext string) bool {
	return textModuleExtensions[ext]
}

func mimeFor(ext string) string {
	switch ext {
	case ".js", ".mjs", ".cjs", ".jsx", ".ts", ".tsx":
		return "application/javascript; charset=utf-8"
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".woff2":
		return "font/woff2"
	default:
		return "application/octet-stream"
	}
}

func isCSSModulePath(abs string, query url.Values) bool {
	return query.Has("module") || strings.HasSuffix(abs, ".module.css")
}

// importSpecifierPattern extracts the specifier from ES import/export
// statements and CommonJS require() calls. It is a lexical scan, not a
// real parser: good enough to discover dependency edges for the graph
// and watcher without depending on an external JS/TS toolchain, which
// is explicitly out of scope (the native/fallback Transformer is an
// external capability per spec.md §1).
var importSpecifierPattern = regexp.MustCompile(`(?:import|export)\s+(?:[^'"]*?\sfrom\s+)?['"]([^'"]+)['"]|require\(\s*['"]([^'"]+)['"]\s*\)|import\(\s*['"]([^'"]+)['"]\s*\)`)

func extractImportSpecifiers(code []byte) []string {
	matches := importSpecifierPattern.FindAllStringSubmatch(string(code), -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		for _, spec := range m[1:] {
			if spec == "" || seen[spec] {
				continue
			}
			seen[spec] = true
			out = append(out, spec)
		}
	}
	return out
}

// indexCandidates are the directory-index files probed in order when a
// request resolves to a directory, per spec.md §4.11.
var indexCandidates = []string{"index.html", "index.js", "index.ts", "index.tsx", "index.jsx"}

func indexCandidatePath(dir string) []string {
	out := make([]string, len(indexCandidates))
	for i, name := range indexCandidates {
		out[i] = filepath.Join(dir, name)
	}
	return out
}
