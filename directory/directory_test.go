package directory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/relaydesk/relaydesk/testutil"
	"github.com/relaydesk/relaydesk/testutil/fixtures"
	"github.com/relaydesk/relaydesk/types"
)

func newTestDirectory(t *testing.T) (*Directory, *gorm.DB) {
	t.Helper()
	db := testutil.OpenTestDB(t)
	return New(db, nil, zaptest.NewLogger(t)), db
}

func seedAgent(t *testing.T, db *gorm.DB, opts ...fixtures.AgentOption) *types.Agent {
	t.Helper()
	a := fixtures.Agent(opts...)
	require.NoError(t, db.Create(a).Error)
	return a
}

func TestGet(t *testing.T) {
	dir, db := newTestDirectory(t)
	ctx := testutil.TestContext(t)

	a := seedAgent(t, db, fixtures.WithAgentID("agent-1"))

	got, err := dir.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.ID)
	assert.Equal(t, types.AgentAvailable, got.Status)

	_, err = dir.Get(ctx, "nope")
	assert.True(t, types.IsCode(err, types.ErrNotFound))

	_, err = dir.Get(ctx, "")
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestListAvailable(t *testing.T) {
	dir, db := newTestDirectory(t)
	ctx := testutil.TestContext(t)

	seedAgent(t, db, fixtures.WithAgentID("busy-load"), fixtures.WithActiveChats(2), fixtures.WithMaxChats(3))
	seedAgent(t, db, fixtures.WithAgentID("idle"), fixtures.WithActiveChats(0), fixtures.WithMaxChats(3))
	seedAgent(t, db, fixtures.WithAgentID("full"), fixtures.WithActiveChats(3), fixtures.WithMaxChats(3))
	seedAgent(t, db, fixtures.WithAgentID("offline"), fixtures.WithStatus(types.AgentOffline))
	seedAgent(t, db, fixtures.WithAgentID("other-tenant"), fixtures.WithTenant("tenant-2"))

	agents, err := dir.ListAvailable(ctx, fixtures.DefaultTenant)
	require.NoError(t, err)

	// Least loaded first; full, offline, and foreign agents excluded.
	require.Len(t, agents, 2)
	assert.Equal(t, "idle", agents[0].ID)
	assert.Equal(t, "busy-load", agents[1].ID)
}

func TestReserve(t *testing.T) {
	dir, db := newTestDirectory(t)
	ctx := testutil.TestContext(t)

	a := seedAgent(t, db, fixtures.WithMaxChats(1))

	require.NoError(t, dir.Reserve(ctx, a.ID, a.TenantID))

	got, err := dir.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ActiveChats)

	// Second reserve exceeds capacity and leaves the counter unchanged.
	err = dir.Reserve(ctx, a.ID, a.TenantID)
	assert.True(t, types.IsCode(err, types.ErrCapacityExceeded))
	assert.True(t, types.IsRetryable(err))

	got, err = dir.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ActiveChats)
}

func TestReserve_NotFound(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := testutil.TestContext(t)

	err := dir.Reserve(ctx, "ghost", fixtures.DefaultTenant)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestReserve_WrongTenant(t *testing.T) {
	dir, db := newTestDirectory(t)
	ctx := testutil.TestContext(t)

	a := seedAgent(t, db)

	err := dir.Reserve(ctx, a.ID, "tenant-2")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestRelease_FlooredAtZero(t *testing.T) {
	dir, db := newTestDirectory(t)
	ctx := testutil.TestContext(t)

	a := seedAgent(t, db, fixtures.WithActiveChats(1))

	require.NoError(t, dir.Release(ctx, a.ID))
	require.NoError(t, dir.Release(ctx, a.ID)) // double release is a no-op

	got, err := dir.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ActiveChats)
}

func TestConcurrentReserve_NeverExceedsCapacity(t *testing.T) {
	dir, db := newTestDirectory(t)
	ctx := testutil.TestContext(t)

	a := seedAgent(t, db, fixtures.WithMaxChats(2))

	const claimants = 8
	var wg sync.WaitGroup
	results := make(chan error, claimants)

	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- dir.Reserve(ctx, a.ID, a.TenantID)
		}()
	}
	wg.Wait()
	close(results)

	var wins, capacity int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case types.IsCode(err, types.ErrCapacityExceeded):
			capacity++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 2, wins)
	assert.Equal(t, claimants-2, capacity)

	got, err := dir.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ActiveChats)
	assert.LessOrEqual(t, got.ActiveChats, got.MaxChats)
}

func TestHeartbeat(t *testing.T) {
	dir, db := newTestDirectory(t)
	ctx := testutil.TestContext(t)

	past := time.Now().UTC().Add(-time.Hour)
	a := seedAgent(t, db, fixtures.WithLastSeen(past))

	require.NoError(t, dir.Heartbeat(ctx, a.ID))

	got, err := dir.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.LastSeen.After(past))

	err = dir.Heartbeat(ctx, "ghost")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestSetStatus(t *testing.T) {
	dir, db := newTestDirectory(t)
	ctx := testutil.TestContext(t)

	a := seedAgent(t, db)

	require.NoError(t, dir.SetStatus(ctx, a.ID, types.AgentBusy))

	got, err := dir.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentBusy, got.Status)

	// Busy agents are not offered for dispatch.
	agents, err := dir.ListAvailable(ctx, a.TenantID)
	require.NoError(t, err)
	assert.Empty(t, agents)

	err = dir.SetStatus(ctx, a.ID, "napping")
	assert.True(t, types.IsCode(err, types.ErrValidation))

	err = dir.SetStatus(ctx, "ghost", types.AgentOffline)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestMarkStaleOffline(t *testing.T) {
	dir, db := newTestDirectory(t)
	ctx := testutil.TestContext(t)

	now := time.Now().UTC()
	seedAgent(t, db, fixtures.WithAgentID("fresh"), fixtures.WithLastSeen(now))
	seedAgent(t, db, fixtures.WithAgentID("stale"), fixtures.WithLastSeen(now.Add(-10*time.Minute)))
	seedAgent(t, db, fixtures.WithAgentID("already-off"), fixtures.WithStatus(types.AgentOffline), fixtures.WithLastSeen(now.Add(-10*time.Minute)))

	n, err := dir.MarkStaleOffline(ctx, now.Add(-2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stale, err := dir.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, types.AgentOffline, stale.Status)

	fresh, err := dir.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, types.AgentAvailable, fresh.Status)
}
