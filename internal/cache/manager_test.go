package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	mr := miniredis.RunT(t)

	config := DefaultConfig()
	config.Addr = mr.Addr()
	config.HealthCheckInterval = 0

	m, err := NewManager(config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	return m
}

func TestSetAndGet(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k1", "v1", time.Minute))

	val, err := m.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "v1", val)
}

func TestGetMiss(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Get(context.Background(), "absent")
	assert.True(t, IsCacheMiss(err))
}

func TestSetNX(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	claimed, err := m.SetNX(ctx, "escalated:h1", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "first claim should win")

	claimed, err = m.SetNX(ctx, "escalated:h1", "1", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim should lose")
}

func TestJSONRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	type presence struct {
		AgentID  string    `json:"agent_id"`
		LastSeen time.Time `json:"last_seen"`
	}

	in := presence{AgentID: "agent-1", LastSeen: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, m.SetJSON(ctx, "presence:agent-1", in, time.Minute))

	var out presence
	require.NoError(t, m.GetJSON(ctx, "presence:agent-1", &out))
	assert.Equal(t, in, out)
}

func TestDeleteAndExists(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k1", "v1", time.Minute))
	require.NoError(t, m.Set(ctx, "k2", "v2", time.Minute))

	count, err := m.Exists(ctx, "k1", "k2", "k3")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, m.Delete(ctx, "k1", "k2"))

	count, err = m.Exists(ctx, "k1", "k2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestClosedManager(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Close())

	_, err := m.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, IsCacheMiss(err))

	assert.Error(t, m.Set(context.Background(), "k", "v", 0))
}
