package memory

import (
	"context"
	"sync"

	"rendezvous/internal/core/domain"
	"rendezvous/internal/core/ports"
)

// MemoryPresenceMirror keeps the last published snapshot in process. It is
// used when no external store is configured.
type MemoryPresenceMirror struct {
	snapshot   []domain.Identity
	departures int
	mu         sync.RWMutex
}

func NewMemoryPresenceMirror() *MemoryPresenceMirror {
	return &MemoryPresenceMirror{}
}

var _ ports.PresenceMirror = (*MemoryPresenceMirror)(nil)

func (m *MemoryPresenceMirror) PublishSnapshot(snapshot []domain.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshot = make([]domain.Identity, len(snapshot))
	copy(m.snapshot, snapshot)
}

func (m *MemoryPresenceMirror) PublishDeparture(id domain.ConnectionID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.departures++
}

func (m *MemoryPresenceMirror) Snapshot() []domain.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make([]domain.Identity, len(m.snapshot))
	copy(snapshot, m.snapshot)
	return snapshot
}

func (m *MemoryPresenceMirror) Departures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.departures
}

func (m *MemoryPresenceMirror) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshot = nil
	m.departures = 0
	return nil
}

func (m *MemoryPresenceMirror) Close() error {
	return nil
}
