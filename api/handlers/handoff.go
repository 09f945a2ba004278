package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relaydesk/relaydesk/api"
	"github.com/relaydesk/relaydesk/directory"
	"github.com/relaydesk/relaydesk/dispatch"
	"github.com/relaydesk/relaydesk/escalation"
	"github.com/relaydesk/relaydesk/guard"
	"github.com/relaydesk/relaydesk/internal/metrics"
	"github.com/relaydesk/relaydesk/registry"
	"github.com/relaydesk/relaydesk/relay"
	"github.com/relaydesk/relaydesk/types"
)

// =============================================================================
// Handoff lifecycle handler
// =============================================================================

// HandoffHandler serves the handoff lifecycle endpoints.
type HandoffHandler struct {
	registry    *registry.Registry
	relay       *relay.Relay
	coordinator *dispatch.Coordinator
	directory   *directory.Directory
	policy      *escalation.Policy
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// NewHandoffHandler creates a handoff handler. policy may be nil when
// escalation is disabled, and collector may be nil when metrics are off.
func NewHandoffHandler(
	reg *registry.Registry,
	rel *relay.Relay,
	coord *dispatch.Coordinator,
	dir *directory.Directory,
	policy *escalation.Policy,
	collector *metrics.Collector,
	logger *zap.Logger,
) *HandoffHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HandoffHandler{
		registry:    reg,
		relay:       rel,
		coordinator: coord,
		directory:   dir,
		policy:      policy,
		metrics:     collector,
		logger:      logger.With(zap.String("component", "handoff_handler")),
	}
}

// =============================================================================
// HTTP Handlers
// =============================================================================

// HandleCreate creates a handoff request.
// @Summary Create handoff
// @Description Request a human takeover for a chat
// @Tags handoff
// @Accept json
// @Produce json
// @Param request body api.CreateHandoffRequest true "Handoff creation request"
// @Success 200 {object} Response{data=api.CreateHandoffResponse} "Created handoff"
// @Failure 400 {object} Response "Invalid request"
// @Security BearerAuth
// @Router /v1/handoffs [post]
func (h *HandoffHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := types.TenantID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "tenant identity is required", h.logger)
		return
	}

	var req api.CreateHandoffRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	created, err := h.registry.Create(r.Context(), tenantID, req.ChatID, req.Context)
	if err != nil {
		WriteDispatchError(w, err, h.logger)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordHandoffCreated(tenantID)
	}

	resp := api.CreateHandoffResponse{Handoff: api.ToHandoffView(created)}

	available, err := h.directory.ListAvailable(r.Context(), tenantID)
	if err != nil {
		h.logger.Warn("availability check failed after create",
			zap.String("handoff_id", created.ID),
			zap.Error(err),
		)
	} else if len(available) == 0 {
		resp.QueuedWithoutAgents = true
		if h.policy != nil {
			if err := h.policy.OnNoAgentsAvailable(r.Context(), created.ID, req.ContactEmail, req.ContactMessage); err != nil {
				h.logger.Warn("no-agents escalation failed",
					zap.String("handoff_id", created.ID),
					zap.Error(err),
				)
			}
		}
	}

	WriteSuccess(w, resp)
}

// HandleListPending lists the pending queue, oldest first.
// @Summary List pending handoffs
// @Tags handoff
// @Produce json
// @Success 200 {object} Response{data=[]api.HandoffView} "Pending queue"
// @Security BearerAuth
// @Router /v1/handoffs/pending [get]
func (h *HandoffHandler) HandleListPending(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r, h.registry.ListPending)
}

// HandleListActive lists handoffs currently owned by agents.
// @Summary List active handoffs
// @Tags handoff
// @Produce json
// @Success 200 {object} Response{data=[]api.HandoffView} "Active conversations"
// @Security BearerAuth
// @Router /v1/handoffs/active [get]
func (h *HandoffHandler) HandleListActive(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r, h.registry.ListActive)
}

// HandleGet fetches a single handoff.
// @Summary Get handoff
// @Tags handoff
// @Produce json
// @Param id path string true "Handoff ID"
// @Success 200 {object} Response{data=api.HandoffView} "Handoff"
// @Failure 404 {object} Response "Handoff not found"
// @Security BearerAuth
// @Router /v1/handoffs/{id} [get]
func (h *HandoffHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	handoff, ok := h.loadHandoff(w, r)
	if !ok {
		return
	}

	if agentID, hasAgent := types.AgentID(r.Context()); hasAgent && !guard.CanView(handoff, agentID) {
		WriteError(w, types.NewError(types.ErrUnauthorized, "handoff is owned by another agent"), h.logger)
		return
	}

	WriteSuccess(w, api.ToHandoffView(handoff))
}

// HandlePickup claims a pending handoff for the calling agent.
// @Summary Pick up handoff
// @Description Atomically claim a pending handoff and reserve agent capacity
// @Tags handoff
// @Produce json
// @Param id path string true "Handoff ID"
// @Success 200 {object} Response{data=api.HandoffView} "Claimed handoff"
// @Failure 404 {object} Response "Handoff not found"
// @Failure 409 {object} Response "Already assigned or agent at capacity"
// @Security BearerAuth
// @Router /v1/handoffs/{id}/pickup [post]
func (h *HandoffHandler) HandlePickup(w http.ResponseWriter, r *http.Request) {
	handoffID := extractHandoffID(r)
	if handoffID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "handoff ID is required", h.logger)
		return
	}

	tenantID, agentID, ok := h.requireAgent(w, r)
	if !ok {
		return
	}

	claimed, err := h.coordinator.Pickup(r.Context(), handoffID, agentID, tenantID)
	if err != nil {
		WriteDispatchError(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.ToHandoffView(claimed))
}

// HandleResolve closes an active handoff owned by the calling agent.
// @Summary Resolve handoff
// @Description Close an active handoff and release agent capacity
// @Tags handoff
// @Produce json
// @Param id path string true "Handoff ID"
// @Success 200 {object} Response{data=api.HandoffView} "Resolved handoff"
// @Failure 403 {object} Response "Not the assigned agent"
// @Failure 409 {object} Response "Already resolved"
// @Security BearerAuth
// @Router /v1/handoffs/{id}/resolve [post]
func (h *HandoffHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	handoffID := extractHandoffID(r)
	if handoffID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "handoff ID is required", h.logger)
		return
	}

	_, agentID, ok := h.requireAgent(w, r)
	if !ok {
		return
	}

	resolved, err := h.coordinator.Resolve(r.Context(), handoffID, agentID)
	if err != nil {
		WriteDispatchError(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.ToHandoffView(resolved))
}

// HandleSendMessage appends a message to a handoff.
// @Summary Send message
// @Description Append one message to the handoff dialogue
// @Tags handoff
// @Accept json
// @Produce json
// @Param id path string true "Handoff ID"
// @Param request body api.SendMessageRequest true "Message"
// @Success 200 {object} Response{data=api.MessageView} "Appended message"
// @Failure 403 {object} Response "Caller may not write to this handoff"
// @Failure 404 {object} Response "Handoff not found"
// @Failure 409 {object} Response "Handoff is closed"
// @Security BearerAuth
// @Router /v1/handoffs/{id}/messages [post]
func (h *HandoffHandler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	handoff, ok := h.loadHandoff(w, r)
	if !ok {
		return
	}

	var req api.SendMessageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	// An authenticated agent always writes as itself; sender fields in the
	// body only matter for channel-layer calls.
	sender := types.SenderKind(req.SenderKind)
	var senderID *string
	if agentID, hasAgent := types.AgentID(r.Context()); hasAgent {
		sender = types.SenderAgent
		senderID = &agentID
	} else {
		if sender == "" {
			sender = types.SenderCustomer
		}
		if req.SenderID != "" {
			senderID = &req.SenderID
		}
	}

	msg, err := h.relay.Append(r.Context(), handoff.ID, sender, senderID, req.Content)
	if err != nil {
		WriteDispatchError(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.ToMessageView(msg))
}

// HandleFetchMessages returns messages for incremental polling. The cursor
// is either since (RFC3339 timestamp) or after_seq (sequence number);
// after_seq wins when both are present.
// @Summary Fetch messages
// @Tags handoff
// @Produce json
// @Param id path string true "Handoff ID"
// @Param since query string false "RFC3339 timestamp cursor"
// @Param after_seq query int false "Sequence cursor"
// @Success 200 {object} Response{data=api.MessagesResponse} "Messages"
// @Failure 404 {object} Response "Handoff not found"
// @Security BearerAuth
// @Router /v1/handoffs/{id}/messages [get]
func (h *HandoffHandler) HandleFetchMessages(w http.ResponseWriter, r *http.Request) {
	handoff, ok := h.loadHandoff(w, r)
	if !ok {
		return
	}

	var (
		messages []types.HandoffMessage
		err      error
	)

	if rawSeq := r.URL.Query().Get("after_seq"); rawSeq != "" {
		afterSeq, parseErr := strconv.ParseInt(rawSeq, 10, 64)
		if parseErr != nil {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "after_seq must be an integer", h.logger)
			return
		}
		messages, err = h.relay.SinceSeq(r.Context(), handoff.ID, afterSeq)
	} else if rawSince := r.URL.Query().Get("since"); rawSince != "" {
		since, parseErr := time.Parse(time.RFC3339, rawSince)
		if parseErr != nil {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "since must be an RFC3339 timestamp", h.logger)
			return
		}
		messages, err = h.relay.Since(r.Context(), handoff.ID, since)
	} else {
		messages, err = h.relay.List(r.Context(), handoff.ID)
	}

	if err != nil {
		WriteDispatchError(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.ToMessagesResponse(messages))
}

// =============================================================================
// Helper Functions
// =============================================================================

func (h *HandoffHandler) handleList(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, tenantID string) ([]types.HandoffRequest, error)) {
	tenantID, ok := types.TenantID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "tenant identity is required", h.logger)
		return
	}

	handoffs, err := list(r.Context(), tenantID)
	if err != nil {
		WriteDispatchError(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.ToHandoffViews(handoffs))
}

// requireAgent pulls the verified (tenant, agent) identity from the request
// context.
func (h *HandoffHandler) requireAgent(w http.ResponseWriter, r *http.Request) (tenantID, agentID string, ok bool) {
	tenantID, hasTenant := types.TenantID(r.Context())
	agentID, hasAgent := types.AgentID(r.Context())
	if !hasTenant || !hasAgent {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "agent identity is required", h.logger)
		return "", "", false
	}
	return tenantID, agentID, true
}

// loadHandoff resolves the path ID and enforces tenant scoping. Handoffs
// from another tenant are indistinguishable from missing ones.
func (h *HandoffHandler) loadHandoff(w http.ResponseWriter, r *http.Request) (*types.HandoffRequest, bool) {
	handoffID := extractHandoffID(r)
	if handoffID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "handoff ID is required", h.logger)
		return nil, false
	}

	handoff, err := h.registry.Get(r.Context(), handoffID)
	if err != nil {
		WriteDispatchError(w, err, h.logger)
		return nil, false
	}

	if tenantID, hasTenant := types.TenantID(r.Context()); hasTenant && handoff.TenantID != tenantID {
		WriteError(w, types.NewError(types.ErrNotFound, "handoff not found"), h.logger)
		return nil, false
	}

	return handoff, true
}

// extractHandoffID extracts the handoff ID from the URL path.
// Supports /v1/handoffs/{id} (PathValue) and suffixed routes like
// /v1/handoffs/{id}/messages (prefix trim).
func extractHandoffID(r *http.Request) string {
	if id := r.PathValue("id"); id != "" {
		return id
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/handoffs/")
	if path == "" || path == r.URL.Path {
		return ""
	}
	if idx := strings.Index(path, "/"); idx >= 0 {
		path = path[:idx]
	}
	return path
}
