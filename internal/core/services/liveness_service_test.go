package services

import (
	"testing"
	"time"

	"rendezvous/internal/core/domain"
	"rendezvous/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLivenessService_Expired(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		cfg           LivenessConfig
		lastHeartbeat time.Duration // offset from base; negative means never
		now           time.Duration
		wantReason    string
	}{
		{"fresh heartbeat", DefaultLivenessConfig(), 0, 5 * time.Minute, ""},
		{"exactly at threshold", DefaultLivenessConfig(), 0, 10 * time.Minute, ""},
		{"past threshold", DefaultLivenessConfig(), 0, 10*time.Minute + time.Second, EvictionStaleHeartbeat},
		{"never heartbeat within grace", DefaultLivenessConfig(), -1, 9 * time.Minute, ""},
		{"never heartbeat past grace", DefaultLivenessConfig(), -1, 11 * time.Minute, EvictionNoHeartbeat},
		{"never heartbeat grace disabled", LivenessConfig{StaleThreshold: 10 * time.Minute}, -1, 48 * time.Hour, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conns := memory.NewMemoryConnectionRepository()
			require.NoError(t, conns.Add(&domain.Connection{ID: "c1", ConnectedAt: base}))

			liveness := NewLivenessService(conns, tt.cfg)
			if tt.lastHeartbeat >= 0 {
				require.True(t, liveness.Heartbeat("c1", base.Add(tt.lastHeartbeat)))
			}

			evictions := liveness.Expired(base.Add(tt.now))
			if tt.wantReason == "" {
				assert.Empty(t, evictions)
				return
			}
			require.Len(t, evictions, 1)
			assert.Equal(t, domain.ConnectionID("c1"), evictions[0].ID)
			assert.Equal(t, tt.wantReason, evictions[0].Reason)
			assert.Equal(t, tt.now-maxDuration(tt.lastHeartbeat, 0), evictions[0].Idle)
		})
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func TestLivenessService_HeartbeatUnknownConnection(t *testing.T) {
	liveness := NewLivenessService(memory.NewMemoryConnectionRepository(), DefaultLivenessConfig())

	assert.False(t, liveness.Heartbeat("gone", time.Now()))
	assert.False(t, liveness.Touch("gone", time.Now()))
}

func TestLivenessService_TouchRespectsConfig(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	conns := memory.NewMemoryConnectionRepository()
	require.NoError(t, conns.Add(&domain.Connection{ID: "c1", ConnectedAt: now}))

	cfg := DefaultLivenessConfig()
	cfg.TouchOnActivity = false
	liveness := NewLivenessService(conns, cfg)

	assert.False(t, liveness.Touch("c1", now))
	conn, _ := conns.Get("c1")
	assert.False(t, conn.HasHeartbeat())

	liveness = NewLivenessService(conns, DefaultLivenessConfig())
	assert.True(t, liveness.Touch("c1", now))
	assert.Equal(t, now, conn.LastHeartbeat)
}

func TestLivenessService_ExpiredOrdersByConnectTime(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	conns := memory.NewMemoryConnectionRepository()
	require.NoError(t, conns.Add(&domain.Connection{ID: "late", ConnectedAt: base.Add(time.Minute)}))
	require.NoError(t, conns.Add(&domain.Connection{ID: "early", ConnectedAt: base}))
	require.NoError(t, conns.Add(&domain.Connection{ID: "active", ConnectedAt: base}))

	liveness := NewLivenessService(conns, DefaultLivenessConfig())
	liveness.Heartbeat("active", base.Add(20*time.Minute))

	evictions := liveness.Expired(base.Add(25 * time.Minute))
	require.Len(t, evictions, 2)
	assert.Equal(t, domain.ConnectionID("early"), evictions[0].ID)
	assert.Equal(t, domain.ConnectionID("late"), evictions[1].ID)
}
