package relay

import (
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	"pgregory.net/rapid"

	"github.com/relaydesk/relaydesk/internal/database"
	"github.com/relaydesk/relaydesk/registry"
	"github.com/relaydesk/relaydesk/testutil"
	"github.com/relaydesk/relaydesk/testutil/fixtures"
	"github.com/relaydesk/relaydesk/types"
)

func newTestRelay(t *testing.T) (*Relay, *gorm.DB) {
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
	return New(pool, reg, nil, logger), db
}

func seedHandoff(t *testing.T, db *gorm.DB, opts ...fixtures.HandoffOption) *types.HandoffRequest {
	t.Helper()
	h := fixtures.Handoff(opts...)
	require.NoError(t, db.Create(h).Error)
	return h
}

func strPtr(s string) *string { return &s }

func TestAppendAndSince_RoundTrip(t *testing.T) {
	r, db := newTestRelay(t)
	ctx := testutil.TestContext(t)

	h := seedHandoff(t, db)

	msg, err := r.Append(ctx, h.ID, types.SenderCustomer, nil, "hello?")
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.Seq)
	assert.Equal(t, types.SenderCustomer, msg.SenderKind)

	got, err := r.Since(ctx, h.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msg.ID, got[0].ID)
	assert.Equal(t, "hello?", got[0].Content)

	// A cursor past the latest message yields nothing.
	later, err := r.Since(ctx, h.ID, msg.CreatedAt.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, later)
}

func TestAppend_SequencesAreDense(t *testing.T) {
	r, db := newTestRelay(t)
	ctx := testutil.TestContext(t)

	h := seedHandoff(t, db, fixtures.WithAssignedAgent("agent-1"))

	for i := 1; i <= 5; i++ {
		var sender types.SenderKind
		var senderID *string
		if i%2 == 0 {
			sender, senderID = types.SenderAgent, strPtr("agent-1")
		} else {
			sender = types.SenderCustomer
		}
		msg, err := r.Append(ctx, h.ID, sender, senderID, "line")
		require.NoError(t, err)
		assert.Equal(t, int64(i), msg.Seq)
	}
}

func TestAppend_AgentAuthorization(t *testing.T) {
	r, db := newTestRelay(t)
	ctx := testutil.TestContext(t)

	h := seedHandoff(t, db, fixtures.WithAssignedAgent("agent-1"))

	_, err := r.Append(ctx, h.ID, types.SenderAgent, strPtr("agent-2"), "let me in")
	assert.True(t, types.IsCode(err, types.ErrUnauthorized))

	// The refused append must not burn a sequence number.
	msg, err := r.Append(ctx, h.ID, types.SenderAgent, strPtr("agent-1"), "hi, how can I help?")
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.Seq)
}

func TestAppend_PendingHandoffRefusesAgentMessages(t *testing.T) {
	r, db := newTestRelay(t)
	ctx := testutil.TestContext(t)

	h := seedHandoff(t, db)

	// No one owns a pending handoff, so no agent may speak on it.
	_, err := r.Append(ctx, h.ID, types.SenderAgent, strPtr("agent-1"), "premature")
	assert.True(t, types.IsCode(err, types.ErrUnauthorized))

	// The customer and the system still can.
	_, err = r.Append(ctx, h.ID, types.SenderCustomer, nil, "anyone there?")
	require.NoError(t, err)
	_, err = r.Append(ctx, h.ID, types.SenderSystem, nil, "an agent will be with you shortly")
	require.NoError(t, err)
}

func TestAppend_TerminalHandoff(t *testing.T) {
	r, db := newTestRelay(t)
	ctx := testutil.TestContext(t)

	resolved := seedHandoff(t, db, fixtures.WithHandoffStatus(types.HandoffResolved))
	_, err := r.Append(ctx, resolved.ID, types.SenderCustomer, nil, "too late")
	assert.True(t, types.IsCode(err, types.ErrInvalidTransition))

	expired := seedHandoff(t, db, fixtures.WithHandoffStatus(types.HandoffExpired))
	_, err = r.Append(ctx, expired.ID, types.SenderSystem, nil, "too late")
	assert.True(t, types.IsCode(err, types.ErrInvalidTransition))
}

func TestAppend_Validation(t *testing.T) {
	r, db := newTestRelay(t)
	ctx := testutil.TestContext(t)

	h := seedHandoff(t, db)

	tests := []struct {
		name      string
		handoffID string
		sender    types.SenderKind
		senderID  *string
		content   string
	}{
		{"empty handoff id", "", types.SenderCustomer, nil, "x"},
		{"unknown sender kind", h.ID, "robot", nil, "x"},
		{"blank content", h.ID, types.SenderCustomer, nil, "   "},
		{"agent without sender id", h.ID, types.SenderAgent, nil, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Append(ctx, tt.handoffID, tt.sender, tt.senderID, tt.content)
			assert.True(t, types.IsCode(err, types.ErrValidation), "got %v", err)
		})
	}

	_, err := r.Append(ctx, "missing", types.SenderCustomer, nil, "x")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestSince_TimestampTieBreak(t *testing.T) {
	r, db := newTestRelay(t)
	ctx := testutil.TestContext(t)

	h := seedHandoff(t, db)

	// m1 and m2 share a timestamp; m3 is later. Sequence breaks the tie.
	t1 := time.Date(2026, 8, 30, 12, 0, 1, 0, time.UTC)
	t2 := time.Date(2026, 8, 30, 12, 0, 2, 0, time.UTC)
	rows := []*types.HandoffMessage{
		{ID: uuid.NewString(), HandoffID: h.ID, Seq: 1, SenderKind: types.SenderCustomer, Content: "m1", CreatedAt: t1},
		{ID: uuid.NewString(), HandoffID: h.ID, Seq: 2, SenderKind: types.SenderSystem, Content: "m2", CreatedAt: t1},
		{ID: uuid.NewString(), HandoffID: h.ID, Seq: 3, SenderKind: types.SenderCustomer, Content: "m3", CreatedAt: t2},
	}
	// Insert out of order to prove ordering comes from the query.
	for _, i := range []int{2, 0, 1} {
		require.NoError(t, db.Create(rows[i]).Error)
	}

	got, err := r.Since(ctx, h.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "m1", got[0].Content)
	assert.Equal(t, "m2", got[1].Content)
	assert.Equal(t, "m3", got[2].Content)
}

func TestSinceSeq(t *testing.T) {
	r, db := newTestRelay(t)
	ctx := testutil.TestContext(t)

	h := seedHandoff(t, db)

	for range 3 {
		_, err := r.Append(ctx, h.ID, types.SenderCustomer, nil, "line")
		require.NoError(t, err)
	}

	got, err := r.SinceSeq(ctx, h.ID, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].Seq)
	assert.Equal(t, int64(3), got[1].Seq)

	empty, err := r.SinceSeq(ctx, h.ID, 3)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// TestOrdering_Property checks that reads are totally ordered by
// (created_at, seq) and that a seq cursor walk reconstructs the full
// transcript without skips or repeats, for arbitrary transcripts with
// colliding timestamps.
func TestOrdering_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r, db := newTestRelay(t)
		ctx := testutil.TestContext(t)
		h := seedHandoff(t, db)

		n := rapid.IntRange(1, 20).Draw(rt, "n")
		base := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

		msgs := make([]*types.HandoffMessage, n)
		for i := 0; i < n; i++ {
			// Few distinct timestamps force sequence tie-breaks.
			offset := rapid.IntRange(0, 2).Draw(rt, "offset")
			msgs[i] = &types.HandoffMessage{
				ID:         uuid.NewString(),
				HandoffID:  h.ID,
				Seq:        int64(i + 1),
				SenderKind: types.SenderCustomer,
				Content:    "m",
				CreatedAt:  base.Add(time.Duration(offset) * time.Second),
			}
		}
		perm := rapid.Permutation(msgs).Draw(rt, "perm")
		for _, m := range perm {
			require.NoError(t, db.Create(m).Error)
		}

		got, err := r.Since(ctx, h.ID, time.Time{})
		require.NoError(t, err)
		require.Len(t, got, n)

		sorted := sort.SliceIsSorted(got, func(a, b int) bool {
			if !got[a].CreatedAt.Equal(got[b].CreatedAt) {
				return got[a].CreatedAt.Before(got[b].CreatedAt)
			}
			return got[a].Seq < got[b].Seq
		})
		assert.True(t, sorted, "messages out of (created_at, seq) order")

		// Walk the seq cursor in steps; the union is exactly the transcript.
		var cursor int64
		var walked []int64
		for {
			page, err := r.SinceSeq(ctx, h.ID, cursor)
			require.NoError(t, err)
			if len(page) == 0 {
				break
			}
			for _, m := range page {
				assert.Greater(t, m.Seq, cursor, "cursor went backwards")
				walked = append(walked, m.Seq)
				cursor = m.Seq
			}
		}
		require.Len(t, walked, n)
		for i, seq := range walked {
			assert.Equal(t, int64(i+1), seq, "seq walk skipped or repeated")
		}
	})
}
