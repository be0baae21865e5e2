// Package transform implements the ordered loader chain and the
// memoized, CAS-backed transform engine, per spec.md §4.8.
package transform

// Ctx is the mutable context threaded through a loader chain. Each
// loader sees the Code left behind by the previous one; a nil Result
// from Transform means "pass through" and leaves Code untouched.
type Ctx struct {
	Path       string
	Code       []byte
	ModuleHash string
	Query      map[string]string
}

// Result is what a loader's Transform returns on a successful run.
type Result struct {
	Code []byte
	Map  []byte
}

// Loader is the pluggable transform-stage contract: a predicate
// deciding whether it applies to a given Ctx, and a transform function
// run when it does.
type Loader struct {
	Name      string
	Order     int
	Test      func(ctx *Ctx) bool
	Transform func(ctx *Ctx) (*Result, error)
}

type registeredLoader struct {
	loader Loader
	index  int
}

// Registry holds loaders sorted ascending by (Order, registration
// index), matching spec.md's tie-break rule.
type Registry struct {
	loaders []registeredLoader
	next    int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a loader, preserving registration order for ties.
func (r *Registry) Register(l Loader) {
	r.loaders = append(r.loaders, registeredLoader{loader: l, index: r.next})
	r.next++
	r.sort()
}

func (r *Registry) sort() {
	loaders := r.loaders
	for i := 1; i < len(loaders); i++ {
		for j := i; j > 0 && less(loaders[j], loaders[j-1]); j-- {
			loaders[j], loaders[j-1] = loaders[j-1], loaders[j]
		}
	}
}

func less(a, b registeredLoader) bool {
	if a.loader.Order != b.loader.Order {
		return a.loader.Order < b.loader.Order
	}
	return a.index < b.index
}

// Matching returns every loader whose Test predicate accepts ctx, in
// registry order.
func (r *Registry) Matching(ctx *Ctx) []Loader {
	out := make([]Loader, 0, len(r.loaders))
	for _, rl := range r.loaders {
		if rl.loader.Test(ctx) {
			out = append(out, rl.loader)
		}
	}
	return out
}
