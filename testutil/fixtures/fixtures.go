// Package fixtures provides test data factories for RelayDesk domain
// entities. Every factory returns a valid entity with sensible defaults;
// option functions override individual fields.
package fixtures

import (
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/types"
)

// DefaultTenant is the tenant used by fixtures unless overridden.
const DefaultTenant = "tenant-1"

// =============================================================================
// Agent factory
// =============================================================================

// AgentOption overrides a field of a fixture agent.
type AgentOption func(*types.Agent)

// WithAgentID sets the agent ID.
func WithAgentID(id string) AgentOption {
	return func(a *types.Agent) { a.ID = id }
}

// WithTenant sets the agent's tenant.
func WithTenant(tenantID string) AgentOption {
	return func(a *types.Agent) { a.TenantID = tenantID }
}

// WithStatus sets the agent's status.
func WithStatus(status types.AgentStatus) AgentOption {
	return func(a *types.Agent) { a.Status = status }
}

// WithMaxChats sets the capacity ceiling.
func WithMaxChats(n int) AgentOption {
	return func(a *types.Agent) { a.MaxChats = n }
}

// WithActiveChats sets the current load.
func WithActiveChats(n int) AgentOption {
	return func(a *types.Agent) { a.ActiveChats = n }
}

// WithLastSeen sets the last heartbeat time.
func WithLastSeen(t time.Time) AgentOption {
	return func(a *types.Agent) { a.LastSeen = t }
}

// Agent returns an available agent with free capacity.
func Agent(opts ...AgentOption) *types.Agent {
	a := &types.Agent{
		ID:          "agent-" + uuid.NewString()[:8],
		TenantID:    DefaultTenant,
		DisplayName: "Test Agent",
		Status:      types.AgentAvailable,
		ActiveChats: 0,
		MaxChats:    3,
		LastSeen:    time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// =============================================================================
// HandoffRequest factory
// =============================================================================

// HandoffOption overrides a field of a fixture handoff.
type HandoffOption func(*types.HandoffRequest)

// WithHandoffID sets the handoff ID.
func WithHandoffID(id string) HandoffOption {
	return func(h *types.HandoffRequest) { h.ID = id }
}

// WithHandoffTenant sets the handoff's tenant.
func WithHandoffTenant(tenantID string) HandoffOption {
	return func(h *types.HandoffRequest) { h.TenantID = tenantID }
}

// WithHandoffStatus sets the lifecycle state.
func WithHandoffStatus(status types.HandoffStatus) HandoffOption {
	return func(h *types.HandoffRequest) { h.Status = status }
}

// WithAssignedAgent marks the handoff active and owned by agentID.
func WithAssignedAgent(agentID string) HandoffOption {
	return func(h *types.HandoffRequest) {
		now := time.Now().UTC()
		h.Status = types.HandoffActive
		h.AssignedAgentID = &agentID
		h.PickedUpAt = &now
	}
}

// WithRequestedAt sets the creation time.
func WithRequestedAt(t time.Time) HandoffOption {
	return func(h *types.HandoffRequest) { h.RequestedAt = t }
}

// Handoff returns a pending handoff request.
func Handoff(opts ...HandoffOption) *types.HandoffRequest {
	h := &types.HandoffRequest{
		ID:          uuid.NewString(),
		TenantID:    DefaultTenant,
		ChatID:      "chat-" + uuid.NewString()[:8],
		Status:      types.HandoffPending,
		Context:     "customer asked about billing",
		RequestedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// HandoffMessage factory
// =============================================================================

// Message returns one message belonging to handoffID.
func Message(handoffID string, seq int64, sender types.SenderKind, content string) *types.HandoffMessage {
	return &types.HandoffMessage{
		ID:         uuid.NewString(),
		HandoffID:  handoffID,
		Seq:        seq,
		SenderKind: sender,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
}
