package transform

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ionifyjs/ionify/internal/cas"
)

func upperLoader() Loader {
	return Loader{
		Name:  "upper",
		Order: 10,
		Test: func(ctx *Ctx) bool {
			return true
		},
		Transform: func(ctx *Ctx) (*Result, error) {
			return &Result{Code: bytes.ToUpper(ctx.Code)}, nil
		},
	}
}

func TestRegistryOrdersByOrderThenRegistration(t *testing.T) {
	r := NewRegistry()
	r.Register(Loader{Name: "b", Order: 5, Test: func(*Ctx) bool { return true }})
	r.Register(Loader{Name: "a", Order: 1, Test: func(*Ctx) bool { return true }})
	r.Register(Loader{Name: "c", Order: 5, Test: func(*Ctx) bool { return true }})

	matched := r.Matching(&Ctx{})
	require.Len(t, matched, 3)
	require.Equal(t, []string{"a", "b", "c"}, []string{matched[0].Name, matched[1].Name, matched[2].Name})
}

func TestRegistryTestPredicateFilters(t *testing.T) {
	r := NewRegistry()
	r.Register(Loader{Name: "jsx-only", Order: 1, Test: func(ctx *Ctx) bool {
		return ctx.Path == "x.jsx"
	}})

	require.Len(t, r.Matching(&Ctx{Path: "x.jsx"}), 1)
	require.Len(t, r.Matching(&Ctx{Path: "x.ts"}), 0)
}

func TestEngineRunProducesLoaderOutput(t *testing.T) {
	r := NewRegistry()
	r.Register(upperLoader())
	e, err := NewEngine(r, nil, "v1", 100, nil)
	require.NoError(t, err)

	artifact, err := e.Run(&Ctx{Path: "a.js", Code: []byte("hello"), ModuleHash: "h1"})
	require.NoError(t, err)
	require.Equal(t, []byte("HELLO"), artifact.Code)
}

func TestEngineSecondRunIsACacheHit(t *testing.T) {
	r := NewRegistry()
	r.Register(upperLoader())
	e, err := NewEngine(r, nil, "v1", 100, nil)
	require.NoError(t, err)

	ctx := &Ctx{Path: "a.js", Code: []byte("hello"), ModuleHash: "h1"}
	_, err = e.Run(ctx)
	require.NoError(t, err)
	_, err = e.Run(ctx)
	require.NoError(t, err)

	require.EqualValues(t, 1, e.Misses())
	require.EqualValues(t, 1, e.Hits())
}

func TestEngineFallsBackToCASOnLRUEviction(t *testing.T) {
	dir := t.TempDir()
	store, err := cas.Open(dir)
	require.NoError(t, err)

	r := NewRegistry()
	r.Register(upperLoader())
	e, err := NewEngine(r, store, "v1", 100, nil)
	require.NoError(t, err)

	ctx := &Ctx{Path: "a.js", Code: []byte("hello"), ModuleHash: "h1"}
	artifact, err := e.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("HELLO"), artifact.Code)

	// Simulate an LRU eviction by recreating the engine against the
	// same CAS store and version.
	e2, err := NewEngine(r, store, "v1", 100, nil)
	require.NoError(t, err)

	artifact2, err := e2.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("HELLO"), artifact2.Code)
	require.EqualValues(t, 1, e2.Hits())
	require.EqualValues(t, 0, e2.Misses())
}

func TestEngineDeduplicatesConcurrentRequestsForSameMemoKey(t *testing.T) {
	var calls atomic.Int64

	r := NewRegistry()
	r.Register(Loader{
		Name:  "spy",
		Order: 1,
		Test:  func(*Ctx) bool { return true },
		Transform: func(ctx *Ctx) (*Result, error) {
			calls.Add(1)
			return &Result{Code: ctx.Code}, nil
		},
	})
	e, err := NewEngine(r, nil, "v1", 100, nil)
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	results := make([][]byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := e.Run(&Ctx{Path: "a.js", Code: []byte("x"), ModuleHash: "same"})
			require.NoError(t, err)
			results[i] = a.Code
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.Equal(t, []byte("x"), r)
	}
	// singleflight shares one execution among callers that overlap it;
	// callers arriving after it completed find the result in the LRU, so
	// the loader runs exactly once.
	require.LessOrEqual(t, calls.Load(), int64(1))
	require.GreaterOrEqual(t, calls.Load(), int64(1))
}

func TestEngineSurfacesTransformError(t *testing.T) {
	r := NewRegistry()
	r.Register(Loader{
		Name:  "broken",
		Order: 1,
		Test:  func(*Ctx) bool { return true },
		Transform: func(ctx *Ctx) (*Result, error) {
			return nil, fmt.Errorf("syntax error")
		},
	})
	e, err := NewEngine(r, nil, "v1", 100, nil)
	require.NoError(t, err)

	_, err = e.Run(&Ctx{Path: "bad.js", Code: []byte("x"), ModuleHash: "h2"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken")
}

func TestEngineNilLoaderResultPassesThrough(t *testing.T) {
	r := NewRegistry()
	r.Register(Loader{
		Name:      "noop",
		Order:     1,
		Test:      func(*Ctx) bool { return true },
		Transform: func(ctx *Ctx) (*Result, error) { return nil, nil },
	})
	e, err := NewEngine(r, nil, "v1", 100, nil)
	require.NoError(t, err)

	a, err := e.Run(&Ctx{Path: "a.js", Code: []byte("unchanged"), ModuleHash: "h3"})
	require.NoError(t, err)
	require.Equal(t, []byte("unchanged"), a.Code)
}
