package monitoring

import (
	"context"
	"fmt"
	"time"

	"rendezvous/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// StatsProvider exposes the session counts a liveness check inspects.
type StatsProvider interface {
	Stats() ports.SessionStats
}

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// AddSessionCheck verifies the registry never outgrows the connection table.
func (h *HealthChecker) AddSessionCheck(provider StatsProvider) {
	h.AddCheck("session", func(ctx context.Context) (bool, error) {
		stats := provider.Stats()
		if stats.Registered > stats.Connections {
			return false, fmt.Errorf("registry holds %d identities for %d connections", stats.Registered, stats.Connections)
		}
		return true, nil
	}, time.Second)
}
