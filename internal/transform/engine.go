package transform

import (
	"log"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ionifyjs/ionify/internal/cas"
	"github.com/ionifyjs/ionify/internal/hashutil"
	"github.com/ionifyjs/ionify/internal/ionerr"
)

// DefaultLRUSize is the default in-memory transform cache size,
// env-overridable via config.Config.TransformCacheMax.
const DefaultLRUSize = 5000

// Artifact is a cached or freshly produced transform output.
type Artifact struct {
	Code []byte
	Map  []byte
}

// Engine runs the loader chain for a module, memoizing results in an
// in-memory LRU backed by the version-scoped CAS, with in-flight
// deduplication across concurrent requests for the same memo key.
type Engine struct {
	registry *Registry
	store    *cas.Store
	version  string

	lru *lru.Cache[string, Artifact]
	sf  singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64

	metrics *Metrics

	mu sync.Mutex
}

// NewEngine creates an Engine. store may be nil to disable the CAS
// tier (LRU-only, e.g. for tests).
func NewEngine(registry *Registry, store *cas.Store, version string, lruSize int, metrics *Metrics) (*Engine, error) {
	if lruSize <= 0 {
		lruSize = DefaultLRUSize
	}
	cache, err := lru.New[string, Artifact](lruSize)
	if err != nil {
		return nil, err
	}
	return &Engine{
		registry: registry,
		store:    store,
		version:  version,
		lru:      cache,
		metrics:  metrics,
	}, nil
}

// Run executes (or replays the memoized result of) the loader chain
// matching ctx.
func (e *Engine) Run(ctx *Ctx) (Artifact, error) {
	loaders := e.registry.Matching(ctx)
	memoKey := e.memoKey(ctx.ModuleHash, loaders)

	v, err, _ := e.sf.Do(memoKey, func() (interface{}, error) {
		if a, ok := e.lru.Get(memoKey); ok {
			e.recordHit()
			return a, nil
		}
		if a, ok := e.readCAS(memoKey); ok {
			e.lru.Add(memoKey, a)
			e.recordHit()
			return a, nil
		}

		e.recordMiss()
		a, err := e.runChain(ctx, loaders)
		if err != nil {
			return Artifact{}, err
		}
		e.lru.Add(memoKey, a)
		e.writeCAS(memoKey, a)
		return a, nil
	})
	if err != nil {
		return Artifact{}, err
	}
	return v.(Artifact), nil
}

// Hits, Misses, and Size report the counters spec.md §4.8 requires.
func (e *Engine) Hits() uint64   { return e.hits.Load() }
func (e *Engine) Misses() uint64 { return e.misses.Load() }
func (e *Engine) Size() int      { return e.lru.Len() }

func (e *Engine) recordHit() {
	e.hits.Add(1)
	if e.metrics != nil {
		e.metrics.Hits.Inc()
		e.metrics.Size.Set(float64(e.lru.Len()))
	}
}

func (e *Engine) recordMiss() {
	e.misses.Add(1)
	if e.metrics != nil {
		e.metrics.Misses.Inc()
		e.metrics.Size.Set(float64(e.lru.Len()))
	}
}

// memoKey hashes the module's content hash together with the ordered
// names of the loaders that matched, so a config or loader-set change
// invalidates previously cached output without touching the CAS.
func (e *Engine) memoKey(moduleHash string, loaders []Loader) string {
	names := make([][]byte, 0, len(loaders))
	for _, l := range loaders {
		names = append(names, []byte(l.Name))
	}
	sigHash := hashutil.HashMany(names...)
	return hashutil.HashMany([]byte(moduleHash), sigHash[:]).Hex()
}

func (e *Engine) runChain(ctx *Ctx, loaders []Loader) (Artifact, error) {
	working := *ctx
	var lastMap []byte

	for _, l := range loaders {
		res, err := l.Transform(&working)
		if err != nil {
			return Artifact{}, &ionerr.TransformError{Path: ctx.Path, Loader: l.Name, Err: err}
		}
		if res == nil {
			continue
		}
		working.Code = res.Code
		if res.Map != nil {
			lastMap = res.Map
		}
	}

	return Artifact{Code: working.Code, Map: lastMap}, nil
}

func (e *Engine) readCAS(memoKey string) (Artifact, bool) {
	if e.store == nil {
		return Artifact{}, false
	}
	code, err := e.store.Read(e.version, memoKey, "code")
	if err != nil || code == nil {
		return Artifact{}, false
	}
	mapData, err := e.store.Read(e.version, memoKey, "map")
	if err != nil {
		mapData = nil
	}
	return Artifact{Code: code, Map: mapData}, true
}

// writeCAS persists a, logging (never failing the request) on error,
// per spec.md §4.8 ("CAS write failures are non-fatal and logged").
func (e *Engine) writeCAS(memoKey string, a Artifact) {
	if e.store == nil {
		return
	}
	if err := e.store.Write(e.version, memoKey, "code", a.Code); err != nil {
		log.Printf("transform: CAS write failed for %s: %v", memoKey, err)
		return
	}
	if a.Map != nil {
		if err := e.store.Write(e.version, memoKey, "map", a.Map); err != nil {
			log.Printf("transform: CAS sourcemap write failed for %s: %v", memoKey, err)
		}
	}
}
