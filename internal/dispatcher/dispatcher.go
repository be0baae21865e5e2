// Package dispatcher implements the dev-mode HTTP surface: module
// serving, the HMR event channel, and the apply/error endpoints, per
// spec.md §4.11 and §6.
package dispatcher

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ionifyjs/ionify/internal/config"
	"github.com/ionifyjs/ionify/internal/graphstore"
	"github.com/ionifyjs/ionify/internal/hmr"
	"github.com/ionifyjs/ionify/internal/resolve"
	"github.com/ionifyjs/ionify/internal/transform"
	"github.com/ionifyjs/ionify/internal/watcher"
	"github.com/ionifyjs/ionify/internal/workerpool"
)

// Dispatcher wires the Resolver, Graph Store, Transform Engine, Worker
// Pool, Watcher, and HMR Coordinator into the dev server's HTTP
// surface.
type Dispatcher struct {
	cfg      *config.Config
	resolver *resolve.Resolver
	graph    *graphstore.Store
	watch    *watcher.Watcher
	engine   *transform.Engine
	pool     *workerpool.Pool
	coord    *hmr.Coordinator

	errLimiter *rate.Limiter

	gcStop chan struct{}

	requestedMu sync.Mutex
	requested   map[string]struct{}
}

// New creates a Dispatcher. errLimiter is one limiter (burst 5, one
// per second after that) shared by every line logServerError writes, so
// a broken file doesn't flood logs on every watch-triggered rebuild. It
// is not keyed by path or error kind.
func New(cfg *config.Config, resolver *resolve.Resolver, graph *graphstore.Store, w *watcher.Watcher, engine *transform.Engine, pool *workerpool.Pool, coord *hmr.Coordinator) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		resolver:   resolver,
		graph:      graph,
		watch:      w,
		engine:     engine,
		pool:       pool,
		coord:      coord,
		errLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
		gcStop:     make(chan struct{}),
		requested:  make(map[string]struct{}),
	}
}

// markRequested records abs as a live entry point: a module the
// dispatcher served directly over HTTP rather than one pulled in only
// as another module's static dependency. Only entries in this set seed
// the periodic GC sweep below.
func (d *Dispatcher) markRequested(abs string) {
	d.requestedMu.Lock()
	d.requested[abs] = struct{}{}
	d.requestedMu.Unlock()
}

func (d *Dispatcher) requestedSnapshot() []string {
	d.requestedMu.Lock()
	defer d.requestedMu.Unlock()
	out := make([]string, 0, len(d.requested))
	for id := range d.requested {
		out = append(out, id)
	}
	return out
}

// gcInterval is how often StartGC sweeps the graph store for nodes that
// are no longer reachable from any current entry point, per spec.md's
// live-graph-pruning supplement to CAS garbage collection.
const gcInterval = 5 * time.Minute

// StartGC launches the periodic graph GC sweep. It returns immediately;
// the sweep loop stops when Shutdown is called.
func (d *Dispatcher) StartGC() {
	go func() {
		ticker := time.NewTicker(gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.collectGarbage()
			case <-d.gcStop:
				return
			}
		}
	}()
}

// collectGarbage sweeps the graph for modules unreachable from any
// module the dispatcher has served directly (markRequested), unwatching
// and removing each one it reports.
func (d *Dispatcher) collectGarbage() {
	plan, err := d.graph.CollectGarbage(d.requestedSnapshot())
	if err != nil {
		d.logServerError("gc collect", "", err)
		return
	}

	if len(plan.Unreachable) == 0 {
		return
	}

	d.requestedMu.Lock()
	for _, id := range plan.Unreachable {
		delete(d.requested, id)
	}
	d.requestedMu.Unlock()

	for _, id := range plan.Unreachable {
		if err := d.graph.Remove(id); err != nil {
			d.logServerError("gc remove", id, err)
			continue
		}
		if err := d.watch.Unwatch(id); err != nil {
			d.logServerError("gc unwatch", id, err)
		}
	}
}

// Routes builds the http.Handler for the dev server, composed exactly
// as kailab/api/routes.go composes its mux: reserved endpoints first
// (most specific pattern wins regardless of registration order under
// Go 1.22's method+pattern ServeMux), a catch-all module route last,
// logging middleware wrapping everything, and a per-request timeout on
// every route except the long-lived event channel.
func (d *Dispatcher) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /__ionify_hmr", d.handleHMRStream)
	mux.HandleFunc("GET /__ionify_hmr_client.js", d.handleHMRClient)
	mux.Handle("POST /__ionify_hmr/apply", TimeoutMiddleware(http.HandlerFunc(d.handleApply), 10*time.Second))
	// Without this, a GET on apply would match the catch-all module
	// route below instead of getting the mux's own 405.
	mux.HandleFunc("GET /__ionify_hmr/apply", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	mux.Handle("POST /__ionify_hmr/error", TimeoutMiddleware(http.HandlerFunc(d.handleErrorReport), 10*time.Second))
	mux.Handle("GET /", TimeoutMiddleware(http.HandlerFunc(d.handleModule), 30*time.Second))

	return LoggingMiddleware(mux)
}

// Shutdown releases the watcher, HMR coordinator, worker pool, and
// flushes the graph store, per spec.md §4.11 ("refuse new connections,
// close watcher + HMR + flush graph"). The caller is responsible for
// the surrounding http.Server.Shutdown and its 3s hard timeout.
func (d *Dispatcher) Shutdown() error {
	close(d.gcStop)
	d.coord.Close()
	d.pool.Close()
	if err := d.watch.CloseAll(); err != nil {
		return err
	}
	return d.graph.Flush()
}
