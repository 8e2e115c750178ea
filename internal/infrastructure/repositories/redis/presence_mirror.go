package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"rendezvous/internal/core/domain"
	"rendezvous/internal/core/ports"
	"rendezvous/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultQueueSize = 256

type mirrorOp struct {
	eventType string
	snapshot  []domain.Identity
	departed  domain.ConnectionID
}

// RedisPresenceMirror copies presence changes to Redis for external
// dashboards: the latest snapshot under a key with a TTL, and every change on
// a pub/sub channel. Writes happen on a background worker; when the queue is
// full the change is dropped.
type RedisPresenceMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.SugaredLogger

	ops     chan mirrorOp
	dropped atomic.Int64
	skipped atomic.Int64
	breaker *circuitbreaker.CircuitBreaker

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

type MirrorConfig struct {
	KeyPrefix   string
	SnapshotTTL time.Duration
	QueueSize   int
	// Breaker guards writes; while open, changes are skipped without
	// touching Redis.
	Breaker circuitbreaker.Config
}

func NewRedisPresenceMirror(client *redis.Client, cfg MirrorConfig, logger *zap.SugaredLogger) *RedisPresenceMirror {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rendezvous"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Breaker.Timeout <= 0 {
		cfg.Breaker = circuitbreaker.DefaultConfig()
	}

	m := &RedisPresenceMirror{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.SnapshotTTL,
		logger: logger,
		ops:    make(chan mirrorOp, cfg.QueueSize),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.breaker = circuitbreaker.New(cfg.Breaker)
	m.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("presence mirror circuit changed", "from", from.String(), "to", to.String())
	})
	go m.run()
	return m
}

var _ ports.PresenceMirror = (*RedisPresenceMirror)(nil)

func (m *RedisPresenceMirror) SnapshotKey() string {
	return m.prefix + ":presence"
}

func (m *RedisPresenceMirror) EventsChannel() string {
	return m.prefix + ":presence:events"
}

func (m *RedisPresenceMirror) PublishSnapshot(snapshot []domain.Identity) {
	copied := make([]domain.Identity, len(snapshot))
	copy(copied, snapshot)
	m.enqueue(mirrorOp{eventType: domain.EventUsersUpdated, snapshot: copied})
}

func (m *RedisPresenceMirror) PublishDeparture(id domain.ConnectionID) {
	m.enqueue(mirrorOp{eventType: domain.EventUserDisconnected, departed: id})
}

func (m *RedisPresenceMirror) enqueue(op mirrorOp) {
	select {
	case <-m.closed:
		return
	default:
	}

	select {
	case m.ops <- op:
	default:
		m.dropped.Add(1)
		m.logger.Warnw("presence mirror queue full, dropping update", "type", op.eventType)
	}
}

// Dropped counts updates discarded because the queue was full.
func (m *RedisPresenceMirror) Dropped() int64 {
	return m.dropped.Load()
}

func (m *RedisPresenceMirror) run() {
	defer close(m.done)

	for {
		select {
		case op := <-m.ops:
			m.apply(op)
		case <-m.closed:
			// flush what is already queued
			for {
				select {
				case op := <-m.ops:
					m.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (m *RedisPresenceMirror) apply(op mirrorOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		return m.write(ctx, op)
	})
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		m.skipped.Add(1)
	case err != nil:
		m.logger.Warnw("failed to mirror presence", "type", op.eventType, "error", err)
	}
}

// Skipped counts changes not written because the circuit was open.
func (m *RedisPresenceMirror) Skipped() int64 {
	return m.skipped.Load()
}

func (m *RedisPresenceMirror) write(ctx context.Context, op mirrorOp) error {
	var payload interface{} = op.departed
	if op.eventType == domain.EventUsersUpdated {
		payload = op.snapshot
	}

	event, err := json.Marshal(domain.Event{Type: op.eventType, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", op.eventType, err)
	}

	pipe := m.client.Pipeline()
	if op.eventType == domain.EventUsersUpdated {
		snapshot, err := json.Marshal(op.snapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		pipe.Set(ctx, m.SnapshotKey(), snapshot, m.ttl)
	}
	pipe.Publish(ctx, m.EventsChannel(), event)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute presence pipeline: %w", err)
	}
	return nil
}

// Clear removes the snapshot left by a previous process.
func (m *RedisPresenceMirror) Clear(ctx context.Context) error {
	if err := m.client.Del(ctx, m.SnapshotKey()).Err(); err != nil {
		return fmt.Errorf("failed to clear presence snapshot: %w", err)
	}
	return nil
}

// Close flushes queued updates and stops the worker. The Redis client is
// owned by the caller.
func (m *RedisPresenceMirror) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	<-m.done
	return nil
}
