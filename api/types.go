package api

import (
	"time"

	"github.com/relaydesk/relaydesk/types"
)

// =============================================================================
// Handoff types
// =============================================================================

// CreateHandoffRequest asks for a human takeover of a chat.
// @Description Handoff creation request
type CreateHandoffRequest struct {
	// Chat identifier supplied by the channel layer
	ChatID string `json:"chat_id" example:"chat-42" binding:"required"`
	// Conversation context snapshot carried into the handoff
	Context string `json:"context,omitempty"`
	// Contact email captured when no agents are available
	ContactEmail string `json:"contact_email,omitempty" example:"visitor@example.com"`
	// Message left for the team alongside the contact email
	ContactMessage string `json:"contact_message,omitempty"`
}

// CreateHandoffResponse is the result of a handoff creation.
// @Description Handoff creation response
type CreateHandoffResponse struct {
	Handoff HandoffView `json:"handoff"`
	// True when no agent had free capacity at creation time; the channel
	// layer should prompt the visitor for contact details
	QueuedWithoutAgents bool `json:"queued_without_agents"`
}

// HandoffView is the API representation of a handoff request.
// @Description Handoff request
type HandoffView struct {
	ID              string     `json:"id" example:"8f14e45f-ceea-467f-a345-52b2c1a4a9b1"`
	TenantID        string     `json:"tenant_id" example:"tenant-1"`
	ChatID          string     `json:"chat_id" example:"chat-42"`
	Status          string     `json:"status" example:"pending"`
	AssignedAgentID *string    `json:"assigned_agent_id,omitempty"`
	Context         string     `json:"context,omitempty"`
	RequestedAt     time.Time  `json:"requested_at"`
	PickedUpAt      *time.Time `json:"picked_up_at,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// =============================================================================
// Message types
// =============================================================================

// SendMessageRequest appends one message to a handoff.
// @Description Message append request
type SendMessageRequest struct {
	// Message body
	Content string `json:"content" binding:"required"`
	// Sender kind for unauthenticated channel calls (customer or system);
	// ignored when the caller is an authenticated agent
	SenderKind string `json:"sender_kind,omitempty" example:"customer"`
	// Sender identity for channel calls
	SenderID string `json:"sender_id,omitempty" example:"visitor-7"`
}

// MessageView is the API representation of a handoff message.
// @Description Handoff message
type MessageView struct {
	ID         string    `json:"id"`
	HandoffID  string    `json:"handoff_id"`
	Seq        int64     `json:"seq"`
	SenderKind string    `json:"sender_kind" example:"agent"`
	SenderID   *string   `json:"sender_id,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessagesResponse is a page of messages for incremental polling.
// @Description Message listing response
type MessagesResponse struct {
	Messages []MessageView `json:"messages"`
	// Highest sequence number in this page; pass as after_seq on the
	// next poll. Zero when the page is empty.
	LastSeq int64 `json:"last_seq"`
}

// =============================================================================
// Agent types
// =============================================================================

// AgentView is the API representation of a human agent.
// @Description Agent roster entry
type AgentView struct {
	ID          string    `json:"id" example:"agent-1"`
	DisplayName string    `json:"display_name,omitempty"`
	Status      string    `json:"status" example:"available"`
	ActiveChats int       `json:"active_chats"`
	MaxChats    int       `json:"max_chats"`
	LastSeen    time.Time `json:"last_seen"`
}

// SetAgentStatusRequest changes an agent's availability.
// @Description Agent status change request
type SetAgentStatusRequest struct {
	// One of available, busy, offline
	Status string `json:"status" example:"available" binding:"required"`
}

// =============================================================================
// Converters
// =============================================================================

// ToHandoffView converts a domain handoff to its API representation.
func ToHandoffView(h *types.HandoffRequest) HandoffView {
	return HandoffView{
		ID:              h.ID,
		TenantID:        h.TenantID,
		ChatID:          h.ChatID,
		Status:          string(h.Status),
		AssignedAgentID: h.AssignedAgentID,
		Context:         h.Context,
		RequestedAt:     h.RequestedAt,
		PickedUpAt:      h.PickedUpAt,
		ResolvedAt:      h.ResolvedAt,
	}
}

// ToHandoffViews converts a slice of domain handoffs.
func ToHandoffViews(hs []types.HandoffRequest) []HandoffView {
	out := make([]HandoffView, 0, len(hs))
	for i := range hs {
		out = append(out, ToHandoffView(&hs[i]))
	}
	return out
}

// ToMessageView converts a domain message to its API representation.
func ToMessageView(m *types.HandoffMessage) MessageView {
	return MessageView{
		ID:         m.ID,
		HandoffID:  m.HandoffID,
		Seq:        m.Seq,
		SenderKind: string(m.SenderKind),
		SenderID:   m.SenderID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}

// ToMessagesResponse converts a message page and records its seq cursor.
func ToMessagesResponse(ms []types.HandoffMessage) MessagesResponse {
	resp := MessagesResponse{Messages: make([]MessageView, 0, len(ms))}
	for i := range ms {
		resp.Messages = append(resp.Messages, ToMessageView(&ms[i]))
		if ms[i].Seq > resp.LastSeq {
			resp.LastSeq = ms[i].Seq
		}
	}
	return resp
}

// ToAgentView converts a domain agent to its API representation.
func ToAgentView(a *types.Agent) AgentView {
	return AgentView{
		ID:          a.ID,
		DisplayName: a.DisplayName,
		Status:      string(a.Status),
		ActiveChats: a.ActiveChats,
		MaxChats:    a.MaxChats,
		LastSeen:    a.LastSeen,
	}
}

// ToAgentViews converts a slice of domain agents.
func ToAgentViews(as []types.Agent) []AgentView {
	out := make([]AgentView, 0, len(as))
	for i := range as {
		out = append(out, ToAgentView(&as[i]))
	}
	return out
}
