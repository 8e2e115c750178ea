package services

import (
	"encoding/json"
	"fmt"
	"time"

	"rendezvous/internal/core/domain"
	"rendezvous/internal/core/ports"

	"go.uber.org/zap"
)

const (
	DropUnknownTarget = "unknown_target"
	DropSendFailed    = "send_failed"
)

// RouterService forwards addressed negotiation messages. Delivery is
// best-effort: a message for a connection that is not live is dropped
// without telling the sender.
type RouterService struct {
	conns    ports.ConnectionRepository
	registry ports.IdentityRegistry
	emitter  ports.Emitter
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
}

func NewRouterService(
	conns ports.ConnectionRepository,
	registry ports.IdentityRegistry,
	emitter ports.Emitter,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *RouterService {
	return &RouterService{
		conns:    conns,
		registry: registry,
		emitter:  emitter,
		metrics:  metrics,
		logger:   logger,
	}
}

type statusPayload struct {
	Target domain.ConnectionID `json:"target"`
	Status string              `json:"status"`
}

// Forward relays an offer, answer or candidate from sender to the target
// named in the payload. It reports whether the message was handed to the
// transport; an absent target is not an error.
func (r *RouterService) Forward(from domain.ConnectionID, kind domain.SignalKind, payload json.RawMessage, now time.Time) (bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return false, fmt.Errorf("%w: %s payload must be an object", domain.ErrInvalidPayload, kind.Type)
	}

	target, err := decodeTarget(fields["target"])
	if err != nil {
		return false, err
	}

	r.recordSent(from, kind, target, now)

	r.logger.Infow("relaying "+kind.Type,
		"from", r.describe(from),
		"to", r.describe(target),
	)

	if _, live := r.conns.Get(target); !live {
		r.logger.Debugw("dropping "+kind.Type+" for unknown target", "from", from, "target", target)
		r.metrics.SignalDropped(kind.Type, DropUnknownTarget)
		return false, nil
	}

	out := map[string]interface{}{
		"from": from,
	}
	if body, ok := fields[kind.Field]; ok {
		out[kind.Field] = body
	}
	// username is omitted when empty, matching peer-connection-status
	if name := r.displayName(from); name != "" {
		out["username"] = name
	}

	if !r.emitter.Send(target, domain.Event{Type: kind.Type, Payload: out}) {
		r.metrics.SignalDropped(kind.Type, DropSendFailed)
		return false, nil
	}

	r.metrics.SignalRelayed(kind.Type)
	return true, nil
}

// ForwardStatus relays a connection-status report as peer-connection-status.
// Reports without a target are only logged.
func (r *RouterService) ForwardStatus(from domain.ConnectionID, payload json.RawMessage) (bool, error) {
	var status statusPayload
	if err := json.Unmarshal(payload, &status); err != nil {
		return false, fmt.Errorf("%w: connection-status payload: %v", domain.ErrInvalidPayload, err)
	}

	r.logger.Infow("connection status reported",
		"from", r.describe(from),
		"status", status.Status,
	)

	if status.Target == "" {
		return false, nil
	}

	if status.Status == "connected" {
		r.logger.Infow("peer link established",
			"from", r.describe(from),
			"to", r.describe(status.Target),
		)
	}

	if _, live := r.conns.Get(status.Target); !live {
		r.metrics.SignalDropped(domain.MessageConnectionStatus, DropUnknownTarget)
		return false, nil
	}

	event := domain.Event{
		Type: domain.EventPeerConnectionStatus,
		Payload: domain.PeerStatusPayload{
			From:     from,
			Username: r.displayName(from),
			Status:   status.Status,
		},
	}
	if !r.emitter.Send(status.Target, event) {
		r.metrics.SignalDropped(domain.MessageConnectionStatus, DropSendFailed)
		return false, nil
	}

	r.metrics.SignalRelayed(domain.MessageConnectionStatus)
	return true, nil
}

func (r *RouterService) recordSent(from domain.ConnectionID, kind domain.SignalKind, target domain.ConnectionID, now time.Time) {
	conn, exists := r.conns.Get(from)
	if !exists {
		return
	}

	switch kind.Type {
	case domain.MessageOffer:
		conn.Stats.OffersSent++
	case domain.MessageAnswer:
		conn.Stats.AnswersSent++
	case domain.MessageICECandidate:
		conn.Stats.CandidatesSent++
	}
	conn.Stats.LastTarget = target
	conn.Stats.LastSignalAt = now
}

func (r *RouterService) displayName(id domain.ConnectionID) string {
	if identity, ok := r.registry.Lookup(id); ok {
		return identity.DisplayName
	}
	return ""
}

// describe prefers the display name and falls back to the id.
func (r *RouterService) describe(id domain.ConnectionID) string {
	if name := r.displayName(id); name != "" {
		return name
	}
	return string(id)
}

func decodeTarget(raw json.RawMessage) (domain.ConnectionID, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", domain.ErrMissingTarget
	}

	var target string
	if err := json.Unmarshal(raw, &target); err != nil {
		return "", fmt.Errorf("%w: target must be a string", domain.ErrInvalidPayload)
	}
	if target == "" {
		return "", domain.ErrMissingTarget
	}
	return domain.ConnectionID(target), nil
}
