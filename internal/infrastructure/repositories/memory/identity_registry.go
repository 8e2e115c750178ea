package memory

import (
	"sync"
	"time"

	"rendezvous/internal/core/domain"
	"rendezvous/internal/core/ports"
)

// MemoryIdentityRegistry keeps identities in first-registration order.
// Re-registering a connection overwrites its name in place.
type MemoryIdentityRegistry struct {
	identities map[domain.ConnectionID]domain.Identity
	order      []domain.ConnectionID
	mu         sync.RWMutex
}

func NewMemoryIdentityRegistry() ports.IdentityRegistry {
	return &MemoryIdentityRegistry{
		identities: make(map[domain.ConnectionID]domain.Identity),
	}
}

func (r *MemoryIdentityRegistry) Register(id domain.ConnectionID, displayName string, at time.Time) domain.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity := domain.Identity{
		ConnectionID: id,
		DisplayName:  displayName,
		RegisteredAt: at,
	}
	if _, exists := r.identities[id]; !exists {
		r.order = append(r.order, id)
	}
	r.identities[id] = identity
	return identity
}

func (r *MemoryIdentityRegistry) Lookup(id domain.ConnectionID) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, exists := r.identities[id]
	return identity, exists
}

func (r *MemoryIdentityRegistry) Remove(id domain.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.identities[id]; !exists {
		return false
	}
	delete(r.identities, id)

	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *MemoryIdentityRegistry) Snapshot() []domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]domain.Identity, 0, len(r.order))
	for _, id := range r.order {
		snapshot = append(snapshot, r.identities[id])
	}
	return snapshot
}

func (r *MemoryIdentityRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.identities)
}
