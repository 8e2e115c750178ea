package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"rendezvous/internal/core/ports"

	"github.com/stretchr/testify/assert"
)

type staticStats ports.SessionStats

func (s staticStats) Stats() ports.SessionStats { return ports.SessionStats(s) }

func TestHealthChecker_AllHealthy(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("always", func(ctx context.Context) (bool, error) { return true, nil }, time.Second)
	h.AddSessionCheck(staticStats{Connections: 3, Registered: 2})

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, map[string]string{"always": StatusHealthy, "session": StatusHealthy}, status.Checks)
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_FailingChecks(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("broken", func(ctx context.Context) (bool, error) { return false, errors.New("boom") }, time.Second)
	h.AddCheck("false", func(ctx context.Context) (bool, error) { return false, nil }, time.Second)
	h.AddSessionCheck(staticStats{Connections: 1, Registered: 2})

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, "boom", status.Checks["broken"])
	assert.Equal(t, "check failed", status.Checks["false"])
	assert.Contains(t, status.Checks["session"], "2 identities for 1 connections")
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_CheckTimeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}
