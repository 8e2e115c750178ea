package ports

import (
	"context"
	"time"

	"rendezvous/internal/core/domain"
)

// Emitter is the outbound capability of the transport layer. Every method is
// fire-and-forget: it must not block on network I/O.
type Emitter interface {
	// Attach admits an accepted connection to Send and Broadcast. It reports
	// false when the connection has already gone away.
	Attach(id domain.ConnectionID) bool
	Send(id domain.ConnectionID, event domain.Event) bool
	Broadcast(event domain.Event) int
	Close(id domain.ConnectionID)
}

// SessionHandler receives transport-level events.
type SessionHandler interface {
	Connect(ctx context.Context, id domain.ConnectionID, remoteAddress string) error
	HandleMessage(ctx context.Context, id domain.ConnectionID, msg domain.Message) error
	Disconnect(ctx context.Context, id domain.ConnectionID)
}

// SessionService is the lifecycle controller: the transport handler plus the
// periodic sweep and read access for the HTTP surface.
type SessionService interface {
	SessionHandler
	Sweep(ctx context.Context) int
	Connections() []domain.ConnectionInfo
	Stats() SessionStats
}

type SessionStats struct {
	Connections int `json:"connections"`
	Registered  int `json:"registered"`
}

// MetricsRecorder receives relay counters.
type MetricsRecorder interface {
	ConnectionOpened()
	ConnectionClosed(lifetime time.Duration)
	Registered(registered int)
	SignalRelayed(messageType string)
	SignalDropped(messageType, reason string)
	PresenceBroadcast(recipients int)
	ConnectionEvicted(reason string)
	SweepCompleted(duration time.Duration)
}
