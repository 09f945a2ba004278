package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/relaydesk/relaydesk/api"
	"github.com/relaydesk/relaydesk/directory"
	"github.com/relaydesk/relaydesk/types"
)

// =============================================================================
// Agent roster handler
// =============================================================================

// AgentHandler serves agent presence and roster endpoints.
type AgentHandler struct {
	directory *directory.Directory
	logger    *zap.Logger
}

// NewAgentHandler creates an agent handler.
func NewAgentHandler(dir *directory.Directory, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{
		directory: dir,
		logger:    logger.With(zap.String("component", "agent_handler")),
	}
}

// =============================================================================
// HTTP Handlers
// =============================================================================

// HandleHeartbeat refreshes the calling agent's last_seen timestamp.
// @Summary Agent heartbeat
// @Description Mark the calling agent as recently seen
// @Tags agent
// @Produce json
// @Success 200 {object} Response "Heartbeat recorded"
// @Failure 404 {object} Response "Agent not found"
// @Security BearerAuth
// @Router /v1/agents/heartbeat [post]
func (h *AgentHandler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	agentID, ok := types.AgentID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "agent identity is required", h.logger)
		return
	}

	if err := h.directory.Heartbeat(r.Context(), agentID); err != nil {
		WriteDispatchError(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]string{"agent_id": agentID})
}

// HandleListAvailable lists agents with free capacity, least loaded first.
// @Summary List available agents
// @Tags agent
// @Produce json
// @Success 200 {object} Response{data=[]api.AgentView} "Available agents"
// @Security BearerAuth
// @Router /v1/agents/available [get]
func (h *AgentHandler) HandleListAvailable(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := types.TenantID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "tenant identity is required", h.logger)
		return
	}

	agents, err := h.directory.ListAvailable(r.Context(), tenantID)
	if err != nil {
		WriteDispatchError(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.ToAgentViews(agents))
}

// HandleGetAgent fetches a single agent's roster entry.
// @Summary Get agent
// @Tags agent
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} Response{data=api.AgentView} "Agent"
// @Failure 404 {object} Response "Agent not found"
// @Security BearerAuth
// @Router /v1/agents/{id} [get]
func (h *AgentHandler) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := extractAgentID(r)
	if agentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "agent ID is required", h.logger)
		return
	}

	agent, err := h.directory.Get(r.Context(), agentID)
	if err != nil {
		WriteDispatchError(w, err, h.logger)
		return
	}

	if tenantID, hasTenant := types.TenantID(r.Context()); hasTenant && agent.TenantID != tenantID {
		WriteError(w, types.NewError(types.ErrNotFound, "agent not found"), h.logger)
		return
	}

	WriteSuccess(w, api.ToAgentView(agent))
}

// HandleSetStatus changes the calling agent's availability.
// @Summary Set agent status
// @Tags agent
// @Accept json
// @Produce json
// @Param request body api.SetAgentStatusRequest true "Status change"
// @Success 200 {object} Response "Status changed"
// @Failure 400 {object} Response "Unknown status"
// @Security BearerAuth
// @Router /v1/agents/status [put]
func (h *AgentHandler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	agentID, ok := types.AgentID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "agent identity is required", h.logger)
		return
	}

	var req api.SetAgentStatusRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if err := h.directory.SetStatus(r.Context(), agentID, types.AgentStatus(req.Status)); err != nil {
		WriteDispatchError(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]string{"agent_id": agentID, "status": req.Status})
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractAgentID extracts the agent ID from the URL path.
// Supports /v1/agents/{id} (PathValue) and prefix trim as a fallback.
func extractAgentID(r *http.Request) string {
	if id := r.PathValue("id"); id != "" {
		return id
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/agents/")
	if path != "" && path != r.URL.Path && !strings.Contains(path, "/") {
		return path
	}
	return ""
}
