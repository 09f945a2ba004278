package types

import "time"

// AgentStatus represents a human agent's availability state.
type AgentStatus string

const (
	AgentAvailable AgentStatus = "available"
	AgentBusy      AgentStatus = "busy"
	AgentOffline   AgentStatus = "offline"
)

// ValidAgentStatus reports whether s is a known agent status.
func ValidAgentStatus(s AgentStatus) bool {
	switch s {
	case AgentAvailable, AgentBusy, AgentOffline:
		return true
	}
	return false
}

// Agent is a human operator within a tenant. ActiveChats is the current
// concurrent load and never leaves the [0, MaxChats] range; it is mutated
// only through the directory's conditional updates.
type Agent struct {
	ID          string      `gorm:"primaryKey;size:64" json:"id"`
	TenantID    string      `gorm:"size:64;not null;index:idx_agents_tenant_status,priority:1" json:"tenant_id"`
	DisplayName string      `gorm:"size:200" json:"display_name"`
	Status      AgentStatus `gorm:"size:16;not null;default:offline;index:idx_agents_tenant_status,priority:2" json:"status"`
	ActiveChats int         `gorm:"not null;default:0" json:"active_chats"`
	MaxChats    int         `gorm:"not null;default:3" json:"max_chats"`
	LastSeen    time.Time   `json:"last_seen"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TableName sets the table name for GORM.
func (Agent) TableName() string {
	return "agents"
}

// HasCapacity reports whether the agent can take one more chat.
func (a *Agent) HasCapacity() bool {
	return a.ActiveChats < a.MaxChats
}
