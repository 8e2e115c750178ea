package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"rendezvous/internal/core/domain"
	"rendezvous/internal/core/ports"
	apperrors "rendezvous/pkg/errors"
	"rendezvous/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SessionService dispatches transport events into the registry, router and
// broadcaster. Every handler and the sweep run under one mutex, so a
// membership change and its broadcast are observed as a single step.
type SessionService struct {
	mu sync.Mutex

	conns    ports.ConnectionRepository
	registry ports.IdentityRegistry
	emitter  ports.Emitter
	metrics  ports.MetricsRecorder

	liveness *LivenessService
	router   *RouterService
	presence *PresenceService

	now    func() time.Time
	logger *zap.SugaredLogger
}

func NewSessionService(
	conns ports.ConnectionRepository,
	registry ports.IdentityRegistry,
	emitter ports.Emitter,
	mirror ports.PresenceMirror,
	livenessCfg LivenessConfig,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *SessionService {
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &SessionService{
		conns:    conns,
		registry: registry,
		emitter:  emitter,
		metrics:  metrics,
		liveness: NewLivenessService(conns, livenessCfg),
		router:   NewRouterService(conns, registry, emitter, metrics, logger),
		presence: NewPresenceService(registry, emitter, mirror, metrics, logger),
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock replaces the time source.
func (s *SessionService) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *SessionService) Connect(ctx context.Context, id domain.ConnectionID, remoteAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn := &domain.Connection{
		ID:            id,
		RemoteAddress: remoteAddress,
		ConnectedAt:   s.now(),
	}
	if err := s.conns.Add(conn); err != nil {
		return fmt.Errorf("failed to track connection %s: %w", id, err)
	}
	// attached inside the lock so no broadcast reaches the client before
	// its greeting
	if !s.emitter.Attach(id) {
		s.conns.Remove(id)
		return fmt.Errorf("connection %s closed before it was accepted: %w", id, domain.ErrConnectionNotFound)
	}

	s.metrics.ConnectionOpened()
	s.logger.Infow("connection opened", "connection_id", id, "remote_address", remoteAddress)

	s.emitter.Send(id, domain.Event{
		Type:    domain.EventConnected,
		Payload: domain.ConnectedPayload{ConnectionID: id},
	})
	s.presence.SendSnapshot(id)
	return nil
}

// HandleMessage dispatches one inbound message. Malformed messages come back
// as INVALID_INPUT errors; the caller logs and drops them.
func (s *SessionService) HandleMessage(ctx context.Context, id domain.ConnectionID, msg domain.Message) error {
	ctx, span := tracing.TraceWebSocketMessage(ctx, msg.Type, string(id))
	defer span.End()

	err := s.dispatch(id, msg)
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (s *SessionService) dispatch(id domain.ConnectionID, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conns.Get(id); !exists {
		return domain.ErrConnectionNotFound
	}

	now := s.now()
	s.liveness.Touch(id, now)

	if kind, ok := domain.SignalKindFor(msg.Type); ok {
		if _, err := s.router.Forward(id, kind, msg.Payload, now); err != nil {
			return malformed(msg.Type, err)
		}
		return nil
	}

	switch msg.Type {
	case domain.MessageRegister:
		name, err := decodeDisplayName(msg.Payload)
		if err != nil {
			return malformed(msg.Type, err)
		}
		s.register(id, name, now)
		return nil

	case domain.MessageConnectionStatus:
		if _, err := s.router.ForwardStatus(id, msg.Payload); err != nil {
			return malformed(msg.Type, err)
		}
		return nil

	case domain.MessageHeartbeat:
		s.liveness.Heartbeat(id, now)
		return nil

	default:
		return malformed(msg.Type, fmt.Errorf("%w: %q", domain.ErrUnknownMessageType, msg.Type))
	}
}

func (s *SessionService) register(id domain.ConnectionID, displayName string, now time.Time) {
	previous, reregistered := s.registry.Lookup(id)
	s.registry.Register(id, displayName, now)

	if reregistered {
		s.logger.Infow("connection re-registered",
			"connection_id", id,
			"previous_name", previous.DisplayName,
			"display_name", displayName,
		)
	} else {
		s.logger.Infow("connection registered", "connection_id", id, "display_name", displayName)
	}

	s.metrics.Registered(s.registry.Len())
	s.presence.Broadcast()
}

// Disconnect cleans up after a transport disconnect. It is a no-op for
// connections that are already gone, so a sweep eviction followed by the
// transport's own disconnect produces one broadcast.
func (s *SessionService) Disconnect(ctx context.Context, id domain.ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, exists := s.conns.Get(id)
	if !exists {
		return
	}
	s.conns.Remove(id)

	identity, registered := s.registry.Lookup(id)
	s.registry.Remove(id)

	lifetime := s.now().Sub(conn.ConnectedAt)
	s.metrics.ConnectionClosed(lifetime)
	s.metrics.Registered(s.registry.Len())
	s.logger.Infow("connection closed",
		"connection_id", id,
		"display_name", identity.DisplayName,
		"registered", registered,
		"lifetime", lifetime.String(),
	)

	s.presence.AnnounceDeparture(id)
	s.presence.Broadcast()
}

// Sweep evicts stale connections and returns how many were removed.
func (s *SessionService) Sweep(ctx context.Context) int {
	ctx, span := tracing.StartSpan(ctx, "liveness.sweep")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	evictions := s.liveness.Expired(start)
	for _, eviction := range evictions {
		if conn, ok := s.conns.Get(eviction.ID); ok {
			s.metrics.ConnectionClosed(start.Sub(conn.ConnectedAt))
		}
		s.conns.Remove(eviction.ID)
		s.registry.Remove(eviction.ID)
		s.emitter.Close(eviction.ID)

		s.metrics.ConnectionEvicted(eviction.Reason)
		s.logger.Infow("removing stale connection",
			"connection_id", eviction.ID,
			"reason", eviction.Reason,
			"idle", eviction.Idle.String(),
		)

		s.presence.Broadcast()
	}

	if len(evictions) > 0 {
		s.metrics.Registered(s.registry.Len())
	}
	s.metrics.SweepCompleted(s.now().Sub(start))
	tracing.AddSpanAttributes(ctx, attribute.Int("liveness.evicted", len(evictions)))
	return len(evictions)
}

// Connections lists live connections for the debug API.
func (s *SessionService) Connections() []domain.ConnectionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := s.conns.List()
	infos := make([]domain.ConnectionInfo, 0, len(conns))
	for _, conn := range conns {
		info := domain.ConnectionInfo{
			ID:            conn.ID,
			RemoteAddress: conn.RemoteAddress,
			ConnectedAt:   conn.ConnectedAt,
			Stats:         conn.Stats,
		}
		if identity, ok := s.registry.Lookup(conn.ID); ok {
			info.Registered = true
			info.DisplayName = identity.DisplayName
		}
		if conn.HasHeartbeat() {
			hb := conn.LastHeartbeat
			info.LastHeartbeat = &hb
		}
		infos = append(infos, info)
	}
	return infos
}

func (s *SessionService) Stats() ports.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return ports.SessionStats{
		Connections: s.conns.Len(),
		Registered:  s.registry.Len(),
	}
}

// decodeDisplayName accepts either a bare JSON string or an object with a
// username or displayName field.
func decodeDisplayName(payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: register requires a display name", domain.ErrInvalidPayload)
	}

	var name string
	if err := json.Unmarshal(payload, &name); err == nil {
		return name, nil
	}

	var obj struct {
		Username    *string `json:"username"`
		DisplayName *string `json:"displayName"`
	}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return "", fmt.Errorf("%w: register payload must be a string or object", domain.ErrInvalidPayload)
	}
	switch {
	case obj.DisplayName != nil:
		return *obj.DisplayName, nil
	case obj.Username != nil:
		return *obj.Username, nil
	}
	return "", fmt.Errorf("%w: register requires a display name", domain.ErrInvalidPayload)
}

func malformed(messageType string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "malformed "+messageType+" message", http.StatusBadRequest).
		WithContext("type", messageType)
}
