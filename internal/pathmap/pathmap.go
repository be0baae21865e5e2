// Package pathmap translates between absolute filesystem paths and the
// public URLs the dev dispatcher serves, per spec.md §4.3.
package pathmap

import (
	"encoding/base64"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ModulePrefix is the URL prefix used to address modules outside the
// project root.
const ModulePrefix = "/__ionify_module"

// PublicPathFor returns the public URL for abs under root. Paths inside
// root are mapped to a root-relative posix path; paths outside root are
// base64url-encoded behind ModulePrefix.
func PublicPathFor(root, abs string) (string, error) {
	root = filepath.Clean(root)
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(root, abs)
	if err == nil && !strings.HasPrefix(rel, "..") && rel != ".." {
		posixRel := filepath.ToSlash(rel)
		return "/" + strings.TrimPrefix(posixRel, "/"), nil
	}

	encoded := base64.URLEncoding.EncodeToString([]byte(abs))
	return ModulePrefix + "/" + encoded, nil
}

// Decode reverses PublicPathFor. It returns an error if url points
// outside root without using ModulePrefix (path traversal guard), or if
// a ModulePrefix-encoded url is malformed base64url.
func Decode(root, url string) (string, error) {
	root = filepath.Clean(root)

	if rest, ok := cutPrefix(url, ModulePrefix+"/"); ok {
		decoded, err := base64.URLEncoding.DecodeString(rest)
		if err != nil {
			return "", fmt.Errorf("pathmap: malformed module-prefix encoding: %w", err)
		}
		return string(decoded), nil
	}

	// Clean the url as a relative path so leading ".." segments survive
	// and the guard below can see them.
	cleanURL := path.Clean(strings.TrimPrefix(url, "/"))
	abs := filepath.Join(root, filepath.FromSlash(cleanURL))

	// Traversal guard: the resolved absolute path must still be inside
	// root. Base64url encoding (ModulePrefix) is the only sanctioned
	// escape hatch; never treat it as a security boundary itself (it is
	// reversible, not secret) -- the guard here is the real boundary.
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("pathmap: %q escapes root %q", url, root)
	}

	return abs, nil
}

func cutPrefix(s, prefix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return s, false
	}
	return s[len(prefix):], true
}
