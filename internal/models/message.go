package models

import "time"

// Sender roles recorded on each message. System messages are exempt from
// notification and read-receipt handling.
const (
	SenderRoleCustomer = "customer"
	SenderRoleExpert   = "expert"
	SenderRoleSystem   = "system"
)

// Message is one entry in the append-only per-conversation log. Content is
// immutable after insert; only IsRead and NotificationSent may flip, each
// exactly once and only from false to true.
type Message struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ConversationID   uint      `gorm:"index;not null" json:"conversation_id"`
	SenderRole       string    `gorm:"size:16;not null" json:"sender_role"`
	SenderID         string    `gorm:"size:64;index" json:"sender_id"`
	Content          string    `gorm:"type:text;not null" json:"content"`
	IsRead           bool      `gorm:"not null;default:false" json:"is_read"`
	NotificationSent bool      `gorm:"not null;default:false" json:"notification_sent"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CountsTowardUnread reports whether the message contributes to the unread
// badge of the given viewer.
func (m Message) CountsTowardUnread(viewerID string) bool {
	if m.SenderRole == SenderRoleSystem {
		return false
	}
	return m.SenderID != viewerID && !m.IsRead
}
