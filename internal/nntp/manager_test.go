package nntp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/nzbfetch/internal/domain"
	"github.com/datallboy/nzbfetch/internal/infra/logger"
	"github.com/datallboy/nzbfetch/internal/nntp/nntptest"
)

func TestManagerOrdersByPriority(t *testing.T) {
	a := nntptest.NewServer(t)
	b := nntptest.NewServer(t)

	backup := a.Config("backup", 2)
	backup.Priority = 10
	backup.MaxRetries = 7
	primary := b.Config("primary", 3)
	primary.Priority = 0

	m, err := NewManager([]domain.ServerConfig{backup, primary}, PoolOptions{Logger: logger.Discard()})
	require.NoError(t, err)
	defer m.Close()

	pools := m.Pools()
	require.Len(t, pools, 2)
	assert.Equal(t, "primary", pools[0].ID())
	assert.Equal(t, "backup", pools[1].ID())
	assert.Equal(t, 5, m.TotalCapacity())
	assert.Equal(t, 3, m.MaxRetries())
	assert.Len(t, m.Stats(), 2)
}

func TestManagerCheck(t *testing.T) {
	ok := nntptest.NewServer(t)
	refusing := nntptest.NewServer(t, nntptest.WithGreeting("502 access denied"))

	m, err := NewManager([]domain.ServerConfig{ok.Config("ok", 1)}, PoolOptions{Logger: logger.Discard()})
	require.NoError(t, err)
	require.NoError(t, m.Check(context.Background()))
	m.Close()

	m, err = NewManager([]domain.ServerConfig{ok.Config("ok", 1), refusing.Config("refusing", 1)}, PoolOptions{Logger: logger.Discard()})
	require.NoError(t, err)
	defer m.Close()

	err = m.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection test failed for refusing")
	assert.NotContains(t, err.Error(), "for ok")
}

func TestManagerRequiresServers(t *testing.T) {
	_, err := NewManager(nil, PoolOptions{})
	require.Error(t, err)
}
