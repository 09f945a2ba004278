package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relaydesk/relaydesk/api"
	"github.com/relaydesk/relaydesk/internal/database"
	"github.com/relaydesk/relaydesk/registry"
	"github.com/relaydesk/relaydesk/relay"
	"github.com/relaydesk/relaydesk/testutil"
	"github.com/relaydesk/relaydesk/testutil/fixtures"
	"github.com/relaydesk/relaydesk/types"
)

// =============================================================================
// 🧪 Stream handler tests
// =============================================================================

type streamEnv struct {
	server  *httptest.Server
	relay   *relay.Relay
	reg     *registry.Registry
	handoff *types.HandoffRequest
}

func newStreamEnv(t *testing.T) *streamEnv {
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
	rel := relay.New(pool, reg, nil, logger)

	h := fixtures.Handoff()
	require.NoError(t, db.Create(h).Error)

	handler := NewStreamHandler(reg, rel, logger)
	handler.poll = 20 * time.Millisecond

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/handoffs/{id}/stream", handler.HandleStream)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &streamEnv{server: server, relay: rel, reg: reg, handoff: h}
}

func (e *streamEnv) wsURL(path string) string {
	return strings.Replace(e.server.URL, "http://", "ws://", 1) + path
}

func TestHandleStream_DeliversBacklogAndCloses(t *testing.T) {
	env := newStreamEnv(t)
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	_, err := env.relay.Append(ctx, env.handoff.ID, types.SenderCustomer, nil, "hello?")
	require.NoError(t, err)
	_, err = env.relay.Append(ctx, env.handoff.ID, types.SenderSystem, nil, "agent requested")
	require.NoError(t, err)

	// Terminal handoff: the stream drains the backlog, then closes.
	require.NoError(t, env.reg.Transition(ctx, env.handoff.ID, types.HandoffPending, types.HandoffExpired))

	conn, _, err := websocket.Dial(ctx, env.wsURL("/v1/handoffs/"+env.handoff.ID+"/stream"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var first, second api.MessageView
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	require.NoError(t, wsjson.Read(ctx, conn, &second))

	assert.Equal(t, "hello?", first.Content)
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, "agent requested", second.Content)
	assert.Equal(t, int64(2), second.Seq)

	// Next read observes the server-side close.
	var extra api.MessageView
	err = wsjson.Read(ctx, conn, &extra)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestHandleStream_PushesLiveMessages(t *testing.T) {
	env := newStreamEnv(t)
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	conn, _, err := websocket.Dial(ctx, env.wsURL("/v1/handoffs/"+env.handoff.ID+"/stream"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_, err = env.relay.Append(ctx, env.handoff.ID, types.SenderCustomer, nil, "anyone there?")
	require.NoError(t, err)

	var got api.MessageView
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, "anyone there?", got.Content)
	assert.Equal(t, int64(1), got.Seq)
}

func TestHandleStream_ResumesFromCursor(t *testing.T) {
	env := newStreamEnv(t)
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	for _, content := range []string{"one", "two", "three"} {
		_, err := env.relay.Append(ctx, env.handoff.ID, types.SenderCustomer, nil, content)
		require.NoError(t, err)
	}

	conn, _, err := websocket.Dial(ctx, env.wsURL("/v1/handoffs/"+env.handoff.ID+"/stream?after_seq=2"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var got api.MessageView
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, "three", got.Content)
	assert.Equal(t, int64(3), got.Seq)
}

func TestHandleStream_UnknownHandoff(t *testing.T) {
	env := newStreamEnv(t)

	resp, err := http.Get(env.server.URL + "/v1/handoffs/nope/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
