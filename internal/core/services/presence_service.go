package services

import (
	"rendezvous/internal/core/domain"
	"rendezvous/internal/core/ports"

	"go.uber.org/zap"
)

// PresenceService emits the registry snapshot to every live connection.
type PresenceService struct {
	registry ports.IdentityRegistry
	emitter  ports.Emitter
	mirror   ports.PresenceMirror
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
}

func NewPresenceService(
	registry ports.IdentityRegistry,
	emitter ports.Emitter,
	mirror ports.PresenceMirror,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *PresenceService {
	return &PresenceService{
		registry: registry,
		emitter:  emitter,
		mirror:   mirror,
		metrics:  metrics,
		logger:   logger,
	}
}

// Broadcast sends users_updated to all connections, registered or not.
func (p *PresenceService) Broadcast() int {
	snapshot := p.registry.Snapshot()
	recipients := p.emitter.Broadcast(domain.Event{
		Type:    domain.EventUsersUpdated,
		Payload: snapshot,
	})

	if p.mirror != nil {
		p.mirror.PublishSnapshot(snapshot)
	}

	p.metrics.PresenceBroadcast(recipients)
	p.logger.Debugw("presence broadcast", "registered", len(snapshot), "recipients", recipients)
	return recipients
}

// AnnounceDeparture tells everyone that a connection is gone.
func (p *PresenceService) AnnounceDeparture(id domain.ConnectionID) {
	p.emitter.Broadcast(domain.Event{
		Type:    domain.EventUserDisconnected,
		Payload: id,
	})

	if p.mirror != nil {
		p.mirror.PublishDeparture(id)
	}
}

// SendSnapshot sends the current presence list to one connection.
func (p *PresenceService) SendSnapshot(id domain.ConnectionID) bool {
	return p.emitter.Send(id, domain.Event{
		Type:    domain.EventUsersUpdated,
		Payload: p.registry.Snapshot(),
	})
}
