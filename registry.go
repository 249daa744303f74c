package postgres

import (
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry holds named pools, at most one of which is designated the
// default. It replaces ambient process-wide pool state: construct one at
// startup and pass it through the call graph. All methods are safe for
// concurrent use.
type Registry struct {
	pools *xsync.MapOf[string, *Pool]

	mu          sync.Mutex
	defaultName string
	hasDefault  bool
}

// NewRegistry creates an empty pool registry.
func NewRegistry() *Registry {
	return &Registry{
		pools: xsync.NewMapOf[string, *Pool](),
	}
}

// Register adds a pool under the given name. Registering a name twice or
// marking a second pool as default is a startup-time configuration error.
func (r *Registry) Register(name string, pool *Pool, isDefault bool) error {
	if pool == nil {
		return fmt.Errorf("cannot register nil pool %q", name)
	}
	if _, loaded := r.pools.LoadOrStore(name, pool); loaded {
		return fmt.Errorf("pool %q already registered", name)
	}
	if isDefault {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.hasDefault {
			r.pools.Delete(name)
			return fmt.Errorf("pool %q cannot be the default: %q already is", name, r.defaultName)
		}
		r.defaultName = name
		r.hasDefault = true
	}
	return nil
}

// Get looks a pool up by name.
func (r *Registry) Get(name string) (*Pool, error) {
	pool, ok := r.pools.Load(name)
	if !ok {
		return nil, fmt.Errorf("no pool registered under %q", name)
	}
	return pool, nil
}

// Default returns the designated default pool. The absence of a default is
// a startup-time configuration error.
func (r *Registry) Default() (*Pool, error) {
	r.mu.Lock()
	name, ok := r.defaultName, r.hasDefault
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no default pool registered")
	}
	return r.Get(name)
}

// StopAll stops every registered pool, keeping the first error.
func (r *Registry) StopAll() error {
	var firstErr error
	r.pools.Range(func(name string, pool *Pool) bool {
		if err := pool.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stopping pool %q: %w", name, err)
		}
		return true
	})
	return firstErr
}
