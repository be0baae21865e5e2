// Command ionify-dev is the ionify development server daemon.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ionifyjs/ionify/internal/cas"
	"github.com/ionifyjs/ionify/internal/config"
	"github.com/ionifyjs/ionify/internal/dispatcher"
	"github.com/ionifyjs/ionify/internal/graphstore"
	"github.com/ionifyjs/ionify/internal/hashutil"
	"github.com/ionifyjs/ionify/internal/hmr"
	"github.com/ionifyjs/ionify/internal/pathmap"
	"github.com/ionifyjs/ionify/internal/resolve"
	"github.com/ionifyjs/ionify/internal/transform"
	"github.com/ionifyjs/ionify/internal/version"
	"github.com/ionifyjs/ionify/internal/watcher"
	"github.com/ionifyjs/ionify/internal/workerpool"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	listen := flag.String("listen", "", "Address to listen on (default: :3000)")
	root := flag.String("root", "", "Project root directory (default: .)")
	ionifyDir := flag.String("ionify-dir", "", "State directory (default: .ionify)")
	flag.Parse()

	cfg := config.FromArgs(*listen, *root, *ionifyDir)

	log.Printf("ionify-dev starting...")
	log.Printf("  listen:      %s", cfg.Listen)
	log.Printf("  root:        %s", cfg.ProjectRoot)
	log.Printf("  ionify_dir:  %s", cfg.IonifyDir)
	log.Printf("  version:     %s", cfg.Version)

	versionHash, err := version.Compute(cfg.BuildConfig)
	if err != nil {
		log.Fatalf("version: %v", err)
	}

	graph, err := graphstore.Init(cfg.IonifyDir, versionHash)
	if err != nil {
		log.Fatalf("graphstore: %v", err)
	}
	defer graph.Close()

	store, err := cas.Open(filepath.Join(cfg.IonifyDir, "cas"))
	if err != nil {
		log.Fatalf("cas: %v", err)
	}

	// The loader chain is intentionally empty at startup: real
	// transforms (TS/JSX compilation, minification, etc.) are registered
	// by build-tool integrations via Registry.Register, not baked into
	// the dev server itself.
	registry := transform.NewRegistry()

	promReg := prometheus.NewRegistry()
	metrics := transform.NewMetrics(promReg)

	engine, err := transform.NewEngine(registry, store, versionHash, cfg.TransformCacheMax, metrics)
	if err != nil {
		log.Fatalf("transform engine: %v", err)
	}

	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = workerpool.DefaultSize()
	}
	pool := workerpool.New(poolSize, cfg.MaxQueueBytes)
	defer pool.Close()

	w, err := watcher.New()
	if err != nil {
		log.Fatalf("watcher: %v", err)
	}
	defer w.CloseAll()

	coord := hmr.NewCoordinator()
	defer coord.Close()

	resolver := resolve.New(resolve.Options{})

	d := dispatcher.New(cfg, resolver, graph, w, engine, pool, coord)
	d.StartGC()

	go runHMRLoop(w, graph, coord, cfg.ProjectRoot)

	mux := http.NewServeMux()
	mux.Handle("/", d.Routes())
	mux.Handle("/__ionify_metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}
		if err := d.Shutdown(); err != nil {
			log.Printf("dispatcher shutdown error: %v", err)
		}

		close(done)
	}()

	log.Printf("ionify-dev listening on %s", cfg.Listen)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}

	<-done
	log.Println("ionify-dev stopped")
}

// runHMRLoop implements the watcher-to-coordinator glue: on every
// coalesced file-change event it walks the dependency graph's reverse
// index to find every affected module, recomputes the seed's content
// hash (dependents reuse their already-stored hash), and hands the
// batch to the HMR coordinator as a single PendingUpdate.
func runHMRLoop(w *watcher.Watcher, graph *graphstore.Store, coord *hmr.Coordinator, root string) {
	for ev := range w.Events() {
		affected, err := graph.CollectAffected([]string{ev.Path})
		if err != nil {
			log.Printf("ionify-dev: collect affected %s: %v", ev.Path, err)
			continue
		}

		if ev.Kind == watcher.Deleted {
			if err := graph.Remove(ev.Path); err != nil {
				log.Printf("ionify-dev: graph remove %s: %v", ev.Path, err)
			}
		}

		modules := make([]hmr.ModuleUpdate, 0, len(affected))
		for _, id := range affected {
			url, err := pathmap.PublicPathFor(root, id)
			if err != nil {
				log.Printf("ionify-dev: public path for %s: %v", id, err)
				continue
			}

			if id == ev.Path {
				modules = append(modules, seedModuleUpdate(id, url, ev.Kind))
				continue
			}

			node, err := graph.Get(id)
			if err != nil || node == nil {
				continue
			}
			modules = append(modules, hmr.ModuleUpdate{
				AbsPath:     id,
				URL:         url,
				ContentHash: node.ContentHash,
				Reason:      hmr.ReasonDependent,
			})
		}

		if len(modules) == 0 {
			continue
		}

		if _, err := coord.QueueUpdate(modules); err != nil {
			log.Printf("ionify-dev: queue update: %v", err)
		}
	}
}

func seedModuleUpdate(abs, url string, kind watcher.EventKind) hmr.ModuleUpdate {
	if kind == watcher.Deleted {
		return hmr.ModuleUpdate{AbsPath: abs, URL: url, Reason: hmr.ReasonDeleted}
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return hmr.ModuleUpdate{AbsPath: abs, URL: url, Reason: hmr.ReasonDeleted}
	}
	return hmr.ModuleUpdate{
		AbsPath:     abs,
		URL:         url,
		ContentHash: hashutil.HashBytes(content).Hex(),
		Reason:      hmr.ReasonChanged,
	}
}
