package ports

import (
	"context"
	"time"

	"rendezvous/internal/core/domain"
)

// IdentityRegistry holds the identity of every registered connection in
// first-registration order.
type IdentityRegistry interface {
	Register(id domain.ConnectionID, displayName string, at time.Time) domain.Identity
	Lookup(id domain.ConnectionID) (domain.Identity, bool)
	Remove(id domain.ConnectionID) bool
	Snapshot() []domain.Identity
	Len() int
}

// ConnectionRepository holds every live transport connection, registered or not.
type ConnectionRepository interface {
	Add(conn *domain.Connection) error
	Get(id domain.ConnectionID) (*domain.Connection, bool)
	Remove(id domain.ConnectionID) bool
	List() []*domain.Connection
	Len() int
}

// PresenceMirror publishes presence changes outside the process. Implementations
// must not block the caller on I/O.
type PresenceMirror interface {
	PublishSnapshot(snapshot []domain.Identity)
	PublishDeparture(id domain.ConnectionID)
	Clear(ctx context.Context) error
	Close() error
}
