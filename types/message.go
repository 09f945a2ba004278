package types

import "time"

// SenderKind identifies which party authored a handoff message.
type SenderKind string

const (
	SenderCustomer SenderKind = "customer"
	SenderAgent    SenderKind = "agent"
	SenderSystem   SenderKind = "system"
)

// ValidSenderKind reports whether k is a known sender kind.
func ValidSenderKind(k SenderKind) bool {
	switch k {
	case SenderCustomer, SenderAgent, SenderSystem:
		return true
	}
	return false
}

// HandoffMessage is one immutable line of dialogue within a handoff.
// Seq is allocated from the parent handoff's counter and breaks timestamp
// ties, so ordering by (CreatedAt, Seq) is total.
type HandoffMessage struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	HandoffID  string     `gorm:"size:36;not null;index:idx_messages_handoff_seq,priority:1" json:"handoff_id"`
	Seq        int64      `gorm:"not null;index:idx_messages_handoff_seq,priority:2" json:"seq"`
	SenderKind SenderKind `gorm:"size:16;not null" json:"sender_kind"`
	SenderID   *string    `gorm:"size:64" json:"sender_id,omitempty"`
	Content    string     `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}

// TableName sets the table name for GORM.
func (HandoffMessage) TableName() string {
	return "handoff_messages"
}
