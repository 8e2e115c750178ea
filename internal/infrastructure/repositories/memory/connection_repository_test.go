package memory

import (
	"testing"
	"time"

	"rendezvous/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryConnectionRepository_AddGetRemove(t *testing.T) {
	repo := NewMemoryConnectionRepository()
	conn := &domain.Connection{ID: "c1", ConnectedAt: time.Now()}

	require.NoError(t, repo.Add(conn))
	assert.ErrorIs(t, repo.Add(&domain.Connection{ID: "c1"}), domain.ErrConnectionExists)

	got, ok := repo.Get("c1")
	require.True(t, ok)
	assert.Same(t, conn, got)
	assert.Equal(t, 1, repo.Len())

	assert.True(t, repo.Remove("c1"))
	assert.False(t, repo.Remove("c1"))
	_, ok = repo.Get("c1")
	assert.False(t, ok)
	assert.Zero(t, repo.Len())
}

func TestMemoryConnectionRepository_ListOrderedByConnectTime(t *testing.T) {
	repo := NewMemoryConnectionRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Add(&domain.Connection{ID: "c3", ConnectedAt: base.Add(2 * time.Second)}))
	require.NoError(t, repo.Add(&domain.Connection{ID: "c2", ConnectedAt: base}))
	require.NoError(t, repo.Add(&domain.Connection{ID: "c1", ConnectedAt: base}))

	var ids []domain.ConnectionID
	for _, conn := range repo.List() {
		ids = append(ids, conn.ID)
	}
	assert.Equal(t, []domain.ConnectionID{"c1", "c2", "c3"}, ids)
}
