package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/relaydesk/relaydesk/api"
	"github.com/relaydesk/relaydesk/guard"
	"github.com/relaydesk/relaydesk/registry"
	"github.com/relaydesk/relaydesk/relay"
	"github.com/relaydesk/relaydesk/types"
)

// =============================================================================
// Live message stream handler
// =============================================================================

// defaultStreamPoll is how often the stream re-reads the relay for new
// messages. Ordering and visibility are identical to HTTP polling; the
// stream only saves clients the request overhead.
const defaultStreamPoll = 500 * time.Millisecond

// StreamHandler pushes handoff messages over a WebSocket connection.
type StreamHandler struct {
	registry *registry.Registry
	relay    *relay.Relay
	poll     time.Duration
	logger   *zap.Logger
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(reg *registry.Registry, rel *relay.Relay, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		registry: reg,
		relay:    rel,
		poll:     defaultStreamPoll,
		logger:   logger.With(zap.String("component", "stream_handler")),
	}
}

// HandleStream serves /v1/handoffs/{id}/stream. Messages after the optional
// after_seq cursor are pushed in (created_at, seq) order; the stream closes
// normally once the handoff reaches a terminal state and the backlog is
// drained.
// @Summary Stream messages
// @Description Push handoff messages over a WebSocket connection
// @Tags handoff
// @Param id path string true "Handoff ID"
// @Param after_seq query int false "Sequence cursor"
// @Security BearerAuth
// @Router /v1/handoffs/{id}/stream [get]
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	handoffID := extractHandoffID(r)
	if handoffID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "handoff ID is required", h.logger)
		return
	}

	var afterSeq int64
	if rawSeq := r.URL.Query().Get("after_seq"); rawSeq != "" {
		parsed, err := strconv.ParseInt(rawSeq, 10, 64)
		if err != nil {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "after_seq must be an integer", h.logger)
			return
		}
		afterSeq = parsed
	}

	handoff, err := h.registry.Get(r.Context(), handoffID)
	if err != nil {
		WriteDispatchError(w, err, h.logger)
		return
	}
	if tenantID, hasTenant := types.TenantID(r.Context()); hasTenant && handoff.TenantID != tenantID {
		WriteError(w, types.NewError(types.ErrNotFound, "handoff not found"), h.logger)
		return
	}
	if agentID, hasAgent := types.AgentID(r.Context()); hasAgent && !guard.CanView(handoff, agentID) {
		WriteError(w, types.NewError(types.ErrUnauthorized, "handoff is owned by another agent"), h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed",
			zap.String("handoff_id", handoffID),
			zap.Error(err),
		)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	h.logger.Info("stream opened",
		zap.String("handoff_id", handoffID),
		zap.Int64("after_seq", afterSeq),
	)

	ctx := r.Context()
	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()

	for {
		messages, err := h.relay.SinceSeq(ctx, handoffID, afterSeq)
		if err != nil {
			h.logger.Warn("stream read failed",
				zap.String("handoff_id", handoffID),
				zap.Error(err),
			)
			conn.Close(websocket.StatusInternalError, "read failed")
			return
		}

		for i := range messages {
			if err := wsjson.Write(ctx, conn, api.ToMessageView(&messages[i])); err != nil {
				// Client went away; nothing to clean up server-side.
				return
			}
			if messages[i].Seq > afterSeq {
				afterSeq = messages[i].Seq
			}
		}

		// Terminal handoffs admit no further messages; once the backlog
		// above is drained the stream is complete.
		if len(messages) == 0 {
			current, err := h.registry.Get(ctx, handoffID)
			if err != nil || current.Status.Terminal() {
				conn.Close(websocket.StatusNormalClosure, "handoff closed")
				return
			}
		}

		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-ticker.C:
		}
	}
}
