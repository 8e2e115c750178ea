package services

import (
	"time"

	"rendezvous/internal/core/domain"
	"rendezvous/internal/core/ports"
)

const (
	EvictionStaleHeartbeat = "stale_heartbeat"
	EvictionNoHeartbeat    = "no_heartbeat"
)

type LivenessConfig struct {
	// StaleThreshold is how old a heartbeat may get before the connection is evicted.
	StaleThreshold time.Duration
	// IdleGrace bounds the lifetime of connections that never sent a heartbeat.
	// Zero disables it and such connections are never swept.
	IdleGrace time.Duration
	// TouchOnActivity refreshes the heartbeat on every inbound message.
	TouchOnActivity bool
}

func DefaultLivenessConfig() LivenessConfig {
	return LivenessConfig{
		StaleThreshold:  10 * time.Minute,
		IdleGrace:       10 * time.Minute,
		TouchOnActivity: true,
	}
}

// Eviction names a connection the sweep should remove.
type Eviction struct {
	ID     domain.ConnectionID
	Reason string
	Idle   time.Duration
}

// LivenessService classifies connections as active or stale. It holds no
// state of its own; the heartbeat lives on the connection record.
type LivenessService struct {
	conns ports.ConnectionRepository
	cfg   LivenessConfig
}

func NewLivenessService(conns ports.ConnectionRepository, cfg LivenessConfig) *LivenessService {
	return &LivenessService{
		conns: conns,
		cfg:   cfg,
	}
}

// Heartbeat records a heartbeat. Late heartbeats for gone connections are ignored.
func (l *LivenessService) Heartbeat(id domain.ConnectionID, now time.Time) bool {
	conn, exists := l.conns.Get(id)
	if !exists {
		return false
	}
	conn.LastHeartbeat = now
	return true
}

// Touch counts any inbound activity as a heartbeat when configured to.
func (l *LivenessService) Touch(id domain.ConnectionID, now time.Time) bool {
	if !l.cfg.TouchOnActivity {
		return false
	}
	return l.Heartbeat(id, now)
}

// Expired returns the connections that are stale at now, oldest first.
func (l *LivenessService) Expired(now time.Time) []Eviction {
	var evictions []Eviction
	for _, conn := range l.conns.List() {
		if conn.HasHeartbeat() {
			if idle := now.Sub(conn.LastHeartbeat); idle > l.cfg.StaleThreshold {
				evictions = append(evictions, Eviction{ID: conn.ID, Reason: EvictionStaleHeartbeat, Idle: idle})
			}
			continue
		}

		if l.cfg.IdleGrace <= 0 {
			continue
		}
		if idle := now.Sub(conn.ConnectedAt); idle > l.cfg.IdleGrace {
			evictions = append(evictions, Eviction{ID: conn.ID, Reason: EvictionNoHeartbeat, Idle: idle})
		}
	}
	return evictions
}
