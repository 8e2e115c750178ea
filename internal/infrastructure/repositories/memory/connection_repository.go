package memory

import (
	"sort"
	"sync"

	"rendezvous/internal/core/domain"
	"rendezvous/internal/core/ports"
)

type MemoryConnectionRepository struct {
	connections map[domain.ConnectionID]*domain.Connection
	mu          sync.RWMutex
}

func NewMemoryConnectionRepository() ports.ConnectionRepository {
	return &MemoryConnectionRepository{
		connections: make(map[domain.ConnectionID]*domain.Connection),
	}
}

func (r *MemoryConnectionRepository) Add(conn *domain.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID]; exists {
		return domain.ErrConnectionExists
	}

	r.connections[conn.ID] = conn
	return nil
}

// Get returns the stored record itself; callers mutate it under the session lock.
func (r *MemoryConnectionRepository) Get(id domain.ConnectionID) (*domain.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[id]
	return conn, exists
}

func (r *MemoryConnectionRepository) Remove(id domain.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[id]; !exists {
		return false
	}

	delete(r.connections, id)
	return true
}

// List returns connections ordered by connect time.
func (r *MemoryConnectionRepository) List() []*domain.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*domain.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}

	sort.Slice(conns, func(i, j int) bool {
		if conns[i].ConnectedAt.Equal(conns[j].ConnectedAt) {
			return conns[i].ID < conns[j].ID
		}
		return conns[i].ConnectedAt.Before(conns[j].ConnectedAt)
	})

	return conns
}

func (r *MemoryConnectionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.connections)
}
