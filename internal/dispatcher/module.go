package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ionifyjs/ionify/internal/graphstore"
	"github.com/ionifyjs/ionify/internal/hashutil"
	"github.com/ionifyjs/ionify/internal/ionerr"
	"github.com/ionifyjs/ionify/internal/pathmap"
	"github.com/ionifyjs/ionify/internal/transform"
	"github.com/ionifyjs/ionify/internal/workerpool"
)

func (d *Dispatcher) handleModule(w http.ResponseWriter, r *http.Request) {
	abs, err := pathmap.Decode(d.cfg.ProjectRoot, r.URL.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	info, err := os.Stat(abs)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if info.IsDir() {
		resolved, ok := d.probeDirectory(abs)
		if !ok {
			http.NotFound(w, r)
			return
		}
		abs = resolved
	}

	d.markRequested(abs)

	ext := strings.ToLower(filepath.Ext(abs))
	query := r.URL.Query()

	switch {
	case isTextModuleExt(ext):
		d.serveTextModule(w, r, abs, ext)
	case ext == ".css":
		d.serveCSS(w, r, abs, query)
	default:
		d.serveAsset(w, r, abs, query)
	}
}

// probeDirectory implements spec.md §4.11's "directory requests probe
// for index.{html,js,ts,tsx,jsx} or package.json#main".
func (d *Dispatcher) probeDirectory(dir string) (string, bool) {
	for _, candidate := range indexCandidatePath(dir) {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}

	manifestPath := filepath.Join(dir, "package.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", false
	}
	var manifest struct {
		Main string `json:"main"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil || manifest.Main == "" {
		return "", false
	}
	mainPath := filepath.Join(dir, manifest.Main)
	if info, err := os.Stat(mainPath); err == nil && !info.IsDir() {
		return mainPath, true
	}
	return "", false
}

func setCacheHeader(w http.ResponseWriter, changed bool) {
	if changed {
		w.Header().Set("X-Ionify-Cache", "MISS")
		return
	}
	w.Header().Set("X-Ionify-Cache", "HIT")
}

func (d *Dispatcher) serveAsset(w http.ResponseWriter, r *http.Request, abs string, query url.Values) {
	content, err := os.ReadFile(abs)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	hash := hashutil.HashBytes(content)
	changed, err := d.graph.Record(abs, hash.Hex(), nil, nil, graphstore.KindAsset)
	if err != nil {
		d.logServerError("graph record", abs, err)
	}
	setCacheHeader(w, changed)

	if query.Has("import") {
		publicPath, err := pathmap.PublicPathFor(d.cfg.ProjectRoot, abs)
		if err != nil {
			publicPath = abs
		}
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		fmt.Fprintf(w, "export default %q;\n", publicPath)
		return
	}

	ext := strings.ToLower(filepath.Ext(abs))
	w.Header().Set("Content-Type", mimeFor(ext))
	w.Write(content)
}

func (d *Dispatcher) serveCSS(w http.ResponseWriter, r *http.Request, abs string, query url.Values) {
	content, err := os.ReadFile(abs)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	hash := hashutil.HashBytes(content)
	kind := graphstore.KindCSS
	if isCSSModulePath(abs, query) {
		kind = graphstore.KindCSSModule
	}
	changed, err := d.graph.Record(abs, hash.Hex(), nil, nil, kind)
	if err != nil {
		d.logServerError("graph record", abs, err)
	}

	artifact, err := d.runTransform(r, &transform.Ctx{
		Path:       abs,
		Code:       content,
		ModuleHash: hash.Hex(),
		Query:      flattenQuery(query),
	})
	if err != nil {
		d.handleTransformError(w, r, abs, err)
		return
	}

	setCacheHeader(w, changed)

	if query.Has("inline") {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		fmt.Fprintf(w, "const css = %q;\nconst style = document.createElement('style');\nstyle.textContent = css;\ndocument.head.appendChild(style);\nexport default css;\n", artifact.Code)
		return
	}

	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Write(artifact.Code)
}

func (d *Dispatcher) serveTextModule(w http.ResponseWriter, r *http.Request, abs string, ext string) {
	content, err := os.ReadFile(abs)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	hash := hashutil.HashBytes(content)

	var staticDeps []string
	for _, specifier := range extractImportSpecifiers(content) {
		resolved, ok := d.resolver.TryResolve(specifier, abs)
		if !ok {
			continue
		}
		staticDeps = append(staticDeps, resolved)
		if err := d.watch.Watch(resolved); err != nil {
			d.logServerError("watch dependency", resolved, err)
		}
	}

	changed, err := d.graph.Record(abs, hash.Hex(), staticDeps, nil, graphstore.KindJS)
	if err != nil {
		d.logServerError("graph record", abs, err)
	}
	if err := d.watch.Watch(abs); err != nil {
		d.logServerError("watch module", abs, err)
	}

	artifact, err := d.runTransform(r, &transform.Ctx{Path: abs, Code: content, ModuleHash: hash.Hex()})
	if err != nil {
		d.handleTransformError(w, r, abs, err)
		return
	}

	code := substituteEnvPlaceholders(artifact.Code)
	if ext == ".html" {
		code = injectHMRClient(code)
	}

	setCacheHeader(w, changed)
	w.Header().Set("Content-Type", mimeFor(ext))
	w.Write(code)
}

// runTransform submits the loader chain to the worker pool so CPU-bound
// parsing/minification work is bounded by the pool's size and
// backpressure, per spec.md §5 ("parallel threads for CPU work").
func (d *Dispatcher) runTransform(r *http.Request, ctx *transform.Ctx) (transform.Artifact, error) {
	v, err := d.pool.Submit(r.Context(), workerpool.Task{
		Label: ctx.Path,
		Size:  int64(len(ctx.Code)),
		Fn: func() (interface{}, error) {
			return d.engine.Run(ctx)
		},
	})
	if err != nil {
		return transform.Artifact{}, err
	}
	return v.(transform.Artifact), nil
}

func (d *Dispatcher) handleTransformError(w http.ResponseWriter, r *http.Request, path string, err error) {
	d.logServerError("transform", path, err)

	var te *ionerr.TransformError
	if errors.As(err, &te) {
		d.coord.BroadcastError("", te.Error())
	}
	http.Error(w, "transform error", http.StatusInternalServerError)
}

func (d *Dispatcher) logServerError(op, path string, err error) {
	if d.errLimiter.Allow() {
		fmt.Printf("ionify-dev: %s %s: %v\n", op, path, err)
	}
}

func flattenQuery(query url.Values) map[string]string {
	out := make(map[string]string, len(query))
	for k, v := range query {
		if len(v) > 0 {
			out[k] = v[0]
		} else {
			out[k] = ""
		}
	}
	return out
}
