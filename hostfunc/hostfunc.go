package hostfunc

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/caffeineduck/newstate/transfer"
)

// Func is a Go function callable from sandboxed code. Arguments and
// results are plain values; tables arrive as independent copies.
type Func func(ctx context.Context, args []transfer.Value) ([]transfer.Value, error)

type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	return fn, ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns a snapshot of the registered functions.
func (r *Registry) All() map[string]Func {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Func, len(r.funcs))
	for name, fn := range r.funcs {
		out[name] = fn
	}
	return out
}

// Merge copies every function of other into r, replacing existing names.
func (r *Registry) Merge(other *Registry) {
	if other == nil {
		return
	}
	for name, fn := range other.All() {
		r.Register(name, fn)
	}
}

// Now returns the wall clock as fractional Unix seconds.
func Now(ctx context.Context, args []transfer.Value) ([]transfer.Value, error) {
	return []transfer.Value{transfer.Number(float64(time.Now().UnixNano()) / 1e9)}, nil
}
