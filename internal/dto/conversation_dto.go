package dto

import (
	"time"

	"github.com/novarell/expertdesk-api/internal/models"
)

// ConversationSummary annotates an order with everything the conversation
// list view needs: lifecycle stage, unread badge, and last-message preview.
type ConversationSummary struct {
	ConversationID uint             `json:"conversation_id"`
	Reference      string           `json:"reference"`
	Stage          string           `json:"stage"`
	OrderStatus    string           `json:"order_status"`
	CustomerID     string           `json:"customer_id"`
	CustomerName   string           `json:"customer_name"`
	ExpertID       string           `json:"expert_id,omitempty"`
	ExpertName     string           `json:"expert_name,omitempty"`
	UnreadCount    int64            `json:"unread_count"`
	LastMessage    *MessageResponse `json:"last_message,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// NewConversationSummary builds a summary from an order and its optional
// latest message.
func NewConversationSummary(order models.Order, stage string, unread int64, latest *models.Message) ConversationSummary {
	summary := ConversationSummary{
		ConversationID: order.ID,
		Reference:      order.Reference,
		Stage:          stage,
		OrderStatus:    order.Status,
		CustomerID:     order.CustomerID,
		CustomerName:   order.CustomerName,
		ExpertID:       order.ExpertID,
		ExpertName:     order.ExpertName,
		UnreadCount:    unread,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
	if latest != nil {
		response := NewMessageResponse(*latest)
		summary.LastMessage = &response
	}
	return summary
}

// ConversationListResponse groups a viewer's conversations by lifecycle stage.
type ConversationListResponse struct {
	Active []ConversationSummary `json:"active"`
	Ready  []ConversationSummary `json:"ready"`
	Closed []ConversationSummary `json:"closed"`
}

// UnreadSummary is the badge payload: total plus per-conversation counts.
type UnreadSummary struct {
	Total         int64          `json:"total"`
	Conversations map[uint]int64 `json:"conversations"`
	ComputedAt    time.Time      `json:"computed_at"`
}
