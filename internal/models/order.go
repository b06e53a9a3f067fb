package models

import (
	"time"

	"gorm.io/datatypes"
)

// Order statuses. An order in a terminal status receives no further work;
// its conversation stays usable for the configured closing window.
const (
	OrderStatusNew        = "new"
	OrderStatusInProgress = "in_progress"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRefunded   = "refunded"
)

// Order is the record a conversation is scoped to. Participant names and
// emails are denormalised from the identity provider at assignment time so
// the notification path never needs a synchronous identity lookup.
type Order struct {
	ID              uint              `gorm:"primaryKey" json:"id"`
	Reference       string            `gorm:"size:64;uniqueIndex" json:"reference"`
	CustomerID      string            `gorm:"size:64;index;not null" json:"customer_id"`
	CustomerName    string            `gorm:"size:255" json:"customer_name"`
	CustomerEmail   string            `gorm:"size:255" json:"customer_email"`
	ExpertID        string            `gorm:"size:64;index" json:"expert_id"`
	ExpertName      string            `gorm:"size:255" json:"expert_name"`
	ExpertEmail     string            `gorm:"size:255" json:"expert_email"`
	Status          string            `gorm:"size:32;not null;default:new" json:"status"`
	StatusChangedAt *time.Time        `json:"status_changed_at"`
	CompletedAt     *time.Time        `json:"completed_at"`
	Metadata        datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// IsTerminalStatus reports whether the status ends the order lifecycle.
func IsTerminalStatus(status string) bool {
	switch status {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// HasExpert reports whether an expert has been assigned to the order.
func (o Order) HasExpert() bool {
	return o.ExpertID != ""
}

// ClosedAt approximates the terminal transition timestamp. The dedicated
// field wins; CompletedAt and UpdatedAt are fallbacks for older rows.
func (o Order) ClosedAt() time.Time {
	if o.StatusChangedAt != nil {
		return *o.StatusChangedAt
	}
	if o.CompletedAt != nil {
		return *o.CompletedAt
	}
	return o.UpdatedAt
}

// CounterpartOf returns the other participant's user ID, or empty when the
// given user is not a participant or no counterpart is assigned yet.
func (o Order) CounterpartOf(userID string) string {
	switch userID {
	case o.CustomerID:
		return o.ExpertID
	case o.ExpertID:
		return o.CustomerID
	default:
		return ""
	}
}

// IsParticipant reports whether the user belongs to the conversation.
func (o Order) IsParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	return userID == o.CustomerID || (o.ExpertID != "" && userID == o.ExpertID)
}
