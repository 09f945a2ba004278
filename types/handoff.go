package types

import "time"

// HandoffStatus represents a handoff's lifecycle state.
type HandoffStatus string

const (
	HandoffPending  HandoffStatus = "pending"
	HandoffActive   HandoffStatus = "active"
	HandoffResolved HandoffStatus = "resolved"
	HandoffExpired  HandoffStatus = "expired"
)

// legalTransitions is the complete edge set of the handoff state machine.
// Resolved and expired are terminal; no state is ever re-entered.
var legalTransitions = map[HandoffStatus]map[HandoffStatus]bool{
	HandoffPending: {
		HandoffActive:  true,
		HandoffExpired: true,
	},
	HandoffActive: {
		HandoffResolved: true,
	},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to HandoffStatus) bool {
	return legalTransitions[from][to]
}

// Terminal reports whether the status admits no further transitions.
func (s HandoffStatus) Terminal() bool {
	return s == HandoffResolved || s == HandoffExpired
}

// HandoffRequest is one customer conversation awaiting or under human
// ownership. AssignedAgentID is set at pickup, never while pending, and
// is retained after resolution so the closing agent stays on record.
// MessageSeq is the per-handoff sequence allocator for the message relay;
// it only ever grows, and only via a conditional increment.
type HandoffRequest struct {
	ID              string        `gorm:"primaryKey;size:36" json:"id"`
	TenantID        string        `gorm:"size:64;not null;index:idx_handoffs_tenant_status,priority:1" json:"tenant_id"`
	ChatID          string        `gorm:"size:128;not null" json:"chat_id"`
	Status          HandoffStatus `gorm:"size:16;not null;default:pending;index:idx_handoffs_tenant_status,priority:2" json:"status"`
	AssignedAgentID *string       `gorm:"size:64;index" json:"assigned_agent_id,omitempty"`
	Context         string        `gorm:"type:text" json:"context,omitempty"`
	ContactEmail    string        `gorm:"size:320" json:"contact_email,omitempty"`
	ContactMessage  string        `gorm:"type:text" json:"contact_message,omitempty"`
	MessageSeq      int64         `gorm:"not null;default:0" json:"-"`
	RequestedAt     time.Time     `gorm:"index" json:"requested_at"`
	PickedUpAt      *time.Time    `json:"picked_up_at,omitempty"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty"`
}

// TableName sets the table name for GORM.
func (HandoffRequest) TableName() string {
	return "handoff_requests"
}

// AssignedTo reports whether the handoff is currently owned by agentID.
func (h *HandoffRequest) AssignedTo(agentID string) bool {
	return h.AssignedAgentID != nil && *h.AssignedAgentID == agentID
}
