package dispatcher

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ionifyjs/ionify/internal/cas"
	"github.com/ionifyjs/ionify/internal/config"
	"github.com/ionifyjs/ionify/internal/graphstore"
	"github.com/ionifyjs/ionify/internal/hmr"
	"github.com/ionifyjs/ionify/internal/resolve"
	"github.com/ionifyjs/ionify/internal/transform"
	"github.com/ionifyjs/ionify/internal/watcher"
	"github.com/ionifyjs/ionify/internal/workerpool"
)

func newTestDispatcher(t *testing.T, root string) *Dispatcher {
	t.Helper()

	graph, err := graphstore.Init(filepath.Join(root, ".ionify"), "v1")
	require.NoError(t, err)
	t.Cleanup(func() { graph.Close() })

	store, err := cas.Open(filepath.Join(root, ".ionify", "cas"))
	require.NoError(t, err)

	w, err := watcher.New()
	require.NoError(t, err)
	t.Cleanup(func() { w.CloseAll() })

	registry := transform.NewRegistry()
	engine, err := transform.NewEngine(registry, store, "v1", 100, nil)
	require.NoError(t, err)

	pool := workerpool.New(2, 0)
	t.Cleanup(pool.Close)

	coord := hmr.NewCoordinator()
	t.Cleanup(coord.Close)

	resolver := resolve.New(resolve.Options{})

	cfg := &config.Config{ProjectRoot: root}

	return New(cfg, resolver, graph, w, engine, pool, coord)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestServeAssetStreamsBytesAndSetsCacheMiss(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "logo.png"), "binary-bytes")

	d := newTestDispatcher(t, root)
	srv := httptest.NewServer(d.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/logo.png")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "MISS", resp.Header.Get("X-Ionify-Cache"))
}

func TestServeAssetImportQueryReturnsJSShim(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "logo.png"), "binary-bytes")

	d := newTestDispatcher(t, root)
	srv := httptest.NewServer(d.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/logo.png?import")
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	require.Contains(t, buf.String(), "export default")
	require.Contains(t, resp.Header.Get("Content-Type"), "javascript")
}

func TestServeJSModuleInjectsNothingButTransformsCode(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.js"), "const x = 1;")

	d := newTestDispatcher(t, root)
	srv := httptest.NewServer(d.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/main.js")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	require.Equal(t, "const x = 1;", buf.String())
}

func TestUnknownPathReturns404(t *testing.T) {
	root := t.TempDir()
	d := newTestDispatcher(t, root)
	srv := httptest.NewServer(d.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/does-not-exist.js")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHMRClientScriptIsServed(t *testing.T) {
	root := t.TempDir()
	d := newTestDispatcher(t, root)
	srv := httptest.NewServer(d.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/__ionify_hmr_client.js")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	require.Contains(t, buf.String(), "EventSource")
}

func TestApplyUnknownIDReturns404(t *testing.T) {
	root := t.TempDir()
	d := newTestDispatcher(t, root)
	srv := httptest.NewServer(d.Routes())
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"id": "no-such-id"})
	resp, err := http.Post(srv.URL+"/__ionify_hmr/apply", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApplyMalformedBodyReturns400(t *testing.T) {
	root := t.TempDir()
	d := newTestDispatcher(t, root)
	srv := httptest.NewServer(d.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/__ionify_hmr/apply", "application/json", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApplyNonPOSTReturns405(t *testing.T) {
	root := t.TempDir()
	d := newTestDispatcher(t, root)
	srv := httptest.NewServer(d.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/__ionify_hmr/apply")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCollectGarbageRemovesUnreachableNodes(t *testing.T) {
	root := t.TempDir()
	d := newTestDispatcher(t, root)

	entry := filepath.Join(root, "main.js")
	orphan := filepath.Join(root, "orphan.js")

	_, err := d.graph.Record(entry, "h1", nil, nil, graphstore.KindJS)
	require.NoError(t, err)
	_, err = d.graph.Record(orphan, "h2", nil, nil, graphstore.KindJS)
	require.NoError(t, err)
	_, err = d.graph.Record(entry+"#dep", "h3", nil, nil, graphstore.KindJS)
	require.NoError(t, err)
	_, err = d.graph.Record(entry, "h1", []string{entry + "#dep"}, nil, graphstore.KindJS)
	require.NoError(t, err)

	d.markRequested(entry)
	d.collectGarbage()

	node, err := d.graph.Get(orphan)
	require.NoError(t, err)
	require.Nil(t, node)

	node, err = d.graph.Get(entry)
	require.NoError(t, err)
	require.NotNil(t, node)
}

func TestErrorReportRebroadcastsToSubscribers(t *testing.T) {
	root := t.TempDir()
	d := newTestDispatcher(t, root)
	srv := httptest.NewServer(d.Routes())
	defer srv.Close()

	sink, err := d.coord.Subscribe()
	require.NoError(t, err)
	<-sink.Events() // ready

	body, _ := json.Marshal(map[string]string{"message": "boom"})
	resp, err := http.Post(srv.URL+"/__ionify_hmr/error", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ev := <-sink.Events()
	require.Equal(t, "error", ev.Type)
	require.Equal(t, "boom", ev.Message)
}
