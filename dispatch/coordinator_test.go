package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/relaydesk/relaydesk/directory"
	"github.com/relaydesk/relaydesk/internal/database"
	"github.com/relaydesk/relaydesk/registry"
	"github.com/relaydesk/relaydesk/testutil"
	"github.com/relaydesk/relaydesk/testutil/fixtures"
	"github.com/relaydesk/relaydesk/types"
)

type testEnv struct {
	coord *Coordinator
	reg   *registry.Registry
	dir   *directory.Directory
	db    *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.OpenTestDB(t)
	logger := zaptest.NewLogger(t)

	poolCfg := database.DefaultPoolConfig()
	poolCfg.HealthCheckInterval = 0
	poolCfg.MaxOpenConns = 1
	pool, err := database.NewPoolManager(db, poolCfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	reg := registry.New(db, logger)
	dir := directory.New(db, nil, logger)
	return &testEnv{
		coord: New(pool, reg, dir, nil, logger),
		reg:   reg,
		dir:   dir,
		db:    db,
	}
}

func (e *testEnv) seedAgent(t *testing.T, opts ...fixtures.AgentOption) *types.Agent {
	t.Helper()
	a := fixtures.Agent(opts...)
	require.NoError(t, e.db.Create(a).Error)
	return a
}

func (e *testEnv) seedHandoff(t *testing.T, opts ...fixtures.HandoffOption) *types.HandoffRequest {
	t.Helper()
	h := fixtures.Handoff(opts...)
	require.NoError(t, e.db.Create(h).Error)
	return h
}

// Scenario: an exclusive pickup claims the handoff and one capacity unit;
// the loser of the race gets AlreadyAssigned.
func TestPickup_ExclusiveClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := testutil.TestContext(t)

	agentA := env.seedAgent(t, fixtures.WithAgentID("agent-a"), fixtures.WithMaxChats(1))
	agentB := env.seedAgent(t, fixtures.WithAgentID("agent-b"), fixtures.WithMaxChats(1))
	h1 := env.seedHandoff(t)

	got, err := env.coord.Pickup(ctx, h1.ID, agentA.ID, agentA.TenantID)
	require.NoError(t, err)
	assert.Equal(t, types.HandoffActive, got.Status)
	assert.True(t, got.AssignedTo(agentA.ID))
	assert.NotNil(t, got.PickedUpAt)

	a, err := env.dir.Get(ctx, agentA.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, a.ActiveChats)

	// Agent B arrived second.
	_, err = env.coord.Pickup(ctx, h1.ID, agentB.ID, agentB.TenantID)
	assert.True(t, types.IsCode(err, types.ErrAlreadyAssigned))

	// B's capacity was never touched.
	b, err := env.dir.Get(ctx, agentB.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, b.ActiveChats)
}

// Scenario: a full agent cannot pick up; the handoff stays pending and
// nothing changes.
func TestPickup_CapacityExceededRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := testutil.TestContext(t)

	agent := env.seedAgent(t, fixtures.WithMaxChats(1), fixtures.WithActiveChats(1))
	h2 := env.seedHandoff(t)

	_, err := env.coord.Pickup(ctx, h2.ID, agent.ID, agent.TenantID)
	assert.True(t, types.IsCode(err, types.ErrCapacityExceeded))
	assert.True(t, types.IsRetryable(err))

	// The claim inside the failed transaction rolled back.
	got, gerr := env.reg.Get(ctx, h2.ID)
	require.NoError(t, gerr)
	assert.Equal(t, types.HandoffPending, got.Status)
	assert.Nil(t, got.AssignedAgentID)

	a, aerr := env.dir.Get(ctx, agent.ID)
	require.NoError(t, aerr)
	assert.Equal(t, 1, a.ActiveChats)
}

// Scenario: resolve closes the handoff and frees the capacity unit; a
// second resolve fails AlreadyResolved without double-releasing.
func TestResolve_ReleasesCapacityOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := testutil.TestContext(t)

	agent := env.seedAgent(t, fixtures.WithMaxChats(1))
	h1 := env.seedHandoff(t)

	_, err := env.coord.Pickup(ctx, h1.ID, agent.ID, agent.TenantID)
	require.NoError(t, err)

	resolved, err := env.coord.Resolve(ctx, h1.ID, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.HandoffResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)
	require.NotNil(t, resolved.AssignedAgentID)
	assert.Equal(t, agent.ID, *resolved.AssignedAgentID, "closing agent stays on record")

	a, err := env.dir.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, a.ActiveChats)

	_, err = env.coord.Resolve(ctx, h1.ID, agent.ID)
	assert.True(t, types.IsCode(err, types.ErrAlreadyResolved))

	a, err = env.dir.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, a.ActiveChats, "double resolve must not double-release")
}

func TestResolve_NonOwnerUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	ctx := testutil.TestContext(t)

	owner := env.seedAgent(t, fixtures.WithAgentID("owner"))
	intruder := env.seedAgent(t, fixtures.WithAgentID("intruder"))
	h := env.seedHandoff(t)

	_, err := env.coord.Pickup(ctx, h.ID, owner.ID, owner.TenantID)
	require.NoError(t, err)

	_, err = env.coord.Resolve(ctx, h.ID, intruder.ID)
	assert.True(t, types.IsCode(err, types.ErrUnauthorized))
	assert.False(t, types.IsRetryable(err))

	// Status and both agents' capacity are untouched.
	got, gerr := env.reg.Get(ctx, h.ID)
	require.NoError(t, gerr)
	assert.Equal(t, types.HandoffActive, got.Status)
	assert.True(t, got.AssignedTo(owner.ID))

	o, _ := env.dir.Get(ctx, owner.ID)
	assert.Equal(t, 1, o.ActiveChats)
	i, _ := env.dir.Get(ctx, intruder.ID)
	assert.Equal(t, 0, i.ActiveChats)
}

func TestPickup_NotFoundAndValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := testutil.TestContext(t)

	agent := env.seedAgent(t)

	_, err := env.coord.Pickup(ctx, "ghost", agent.ID, agent.TenantID)
	assert.True(t, types.IsCode(err, types.ErrNotFound))

	_, err = env.coord.Pickup(ctx, "", agent.ID, agent.TenantID)
	assert.True(t, types.IsCode(err, types.ErrValidation))

	// A handoff in another tenant is invisible.
	foreign := env.seedHandoff(t, fixtures.WithHandoffTenant("tenant-2"))
	_, err = env.coord.Pickup(ctx, foreign.ID, agent.ID, agent.TenantID)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestPickup_ExpiredHandoff(t *testing.T) {
	env := newTestEnv(t)
	ctx := testutil.TestContext(t)

	agent := env.seedAgent(t)
	h := env.seedHandoff(t, fixtures.WithHandoffStatus(types.HandoffExpired))

	_, err := env.coord.Pickup(ctx, h.ID, agent.ID, agent.TenantID)
	assert.True(t, types.IsCode(err, types.ErrInvalidTransition))
}

// Two concurrent pickups on the same pending handoff: exactly one wins,
// the other loses with AlreadyAssigned, and capacity is incremented
// exactly once in total.
func TestPickup_ConcurrentRace(t *testing.T) {
	env := newTestEnv(t)
	ctx := testutil.TestContext(t)

	agentA := env.seedAgent(t, fixtures.WithAgentID("racer-a"), fixtures.WithMaxChats(100))
	agentB := env.seedAgent(t, fixtures.WithAgentID("racer-b"), fixtures.WithMaxChats(100))

	for round := 0; round < 10; round++ {
		h := env.seedHandoff(t)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, ag := range []string{agentA.ID, agentB.ID} {
			wg.Add(1)
			go func(slot int, agentID string) {
				defer wg.Done()
				_, errs[slot] = env.coord.Pickup(ctx, h.ID, agentID, fixtures.DefaultTenant)
			}(i, ag)
		}
		wg.Wait()

		var wins, lost int
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case types.IsCode(err, types.ErrAlreadyAssigned):
				lost++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, wins, "round %d", round)
		assert.Equal(t, 1, lost, "round %d", round)

		got, err := env.reg.Get(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, types.HandoffActive, got.Status)
		require.NotNil(t, got.AssignedAgentID)

		// Total capacity across both racers grew by exactly one.
		a, _ := env.dir.Get(ctx, agentA.ID)
		b, _ := env.dir.Get(ctx, agentB.ID)
		assert.Equal(t, round+1, a.ActiveChats+b.ActiveChats, "round %d", round)

		// The winner is the one holding the capacity unit.
		winner := *got.AssignedAgentID
		w, _ := env.dir.Get(ctx, winner)
		assert.GreaterOrEqual(t, w.ActiveChats, 1)
	}
}
