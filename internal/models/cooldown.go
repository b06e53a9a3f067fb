package models

import "time"

// Direction scopes notification cooldown state within a conversation.
// Customer→expert and expert→customer windows are independent.
type Direction string

const (
	DirectionCustomerToExpert Direction = "customer_to_expert"
	DirectionExpertToCustomer Direction = "expert_to_customer"
)

// DirectionForRole maps a sender role to its notification direction.
// System messages have no direction and never notify.
func DirectionForRole(senderRole string) (Direction, bool) {
	switch senderRole {
	case SenderRoleCustomer:
		return DirectionCustomerToExpert, true
	case SenderRoleExpert:
		return DirectionExpertToCustomer, true
	default:
		return "", false
	}
}

// NotificationCooldown is the per (conversation, direction) state behind the
// email batching decision. QueuedCount grows only inside an open window while
// the recipient is offline and resets the moment an email fires or the
// recipient comes online.
type NotificationCooldown struct {
	LastNotifiedAt *time.Time `json:"last_notified_at"`
	QueuedCount    int        `json:"queued_count"`
}
