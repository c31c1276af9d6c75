package requests

import (
	"fmt"
	"sync"
)

// Registry resolves opaque getter IDs, as stamped into a persistent
// DatastoreCheckerItem, to live SendableGet instances. It stands in for the
// object database's on-demand activate/deactivate: a getter that was never
// Register()ed, or that has since been Unregister()ed, simply is not present,
// and the checker treats that as "deleted" rather than reaching into a
// persistence layer to hydrate it.
type Registry struct {
	mu sync.RWMutex

	getters map[string]SendableGet

	totalRegistered   int64
	totalUnregistered int64
}

// NewRegistry creates an empty getter registry.
func NewRegistry() *Registry {
	return &Registry{
		getters: make(map[string]SendableGet),
	}
}

// Register makes a getter resolvable by its ID. Re-registering the same ID
// replaces the previous value.
func (r *Registry) Register(getter SendableGet) error {
	if getter == nil {
		return fmt.Errorf("requests: cannot register nil getter")
	}
	id := getter.ID()
	if id == "" {
		return fmt.Errorf("requests: getter ID must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.getters[id] = getter
	r.totalRegistered++
	return nil
}

// Unregister removes a getter. Once gone, Resolve reports it absent and the
// checker treats any persistent item still referencing it as orphaned.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.getters[id]; !exists {
		return
	}
	delete(r.getters, id)
	r.totalUnregistered++
}

// Resolve looks up a getter by ID. The boolean mirrors the database layer's
// isStored/isActive check: false means the checker should treat the
// referencing persistent item as orphaned and delete it.
func (r *Registry) Resolve(id string) (SendableGet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.getters[id]
	return g, ok
}

// Count returns the number of currently registered getters.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.getters)
}

// Stats returns registry bookkeeping counters.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RegistryStats{
		Active:            len(r.getters),
		TotalRegistered:   r.totalRegistered,
		TotalUnregistered: r.totalUnregistered,
	}
}

// RegistryStats summarizes registry activity.
type RegistryStats struct {
	Active            int
	TotalRegistered   int64
	TotalUnregistered int64
}

func (rs RegistryStats) String() string {
	return fmt.Sprintf("Registry: %d active, %d registered total, %d unregistered total",
		rs.Active, rs.TotalRegistered, rs.TotalUnregistered)
}
