package dto

import (
	"time"

	"github.com/novarell/expertdesk-api/internal/models"
)

// SendMessageRequest is the payload for posting a message into a conversation.
// Notify asks for an immediate notification evaluation; it never bypasses the
// cooldown floor.
type SendMessageRequest struct {
	Content string `json:"content" validate:"required,min=1,max=4000"`
	Notify  bool   `json:"notify"`
}

// MessageResponse is the serialized representation of a chat message.
type MessageResponse struct {
	ID               uint      `json:"id"`
	ConversationID   uint      `json:"conversation_id"`
	SenderRole       string    `json:"sender_role"`
	SenderID         string    `json:"sender_id"`
	Content          string    `json:"content"`
	IsRead           bool      `json:"is_read"`
	NotificationSent bool      `json:"notification_sent"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewMessageResponse converts a model into a DTO.
func NewMessageResponse(message models.Message) MessageResponse {
	return MessageResponse{
		ID:               message.ID,
		ConversationID:   message.ConversationID,
		SenderRole:       message.SenderRole,
		SenderID:         message.SenderID,
		Content:          message.Content,
		IsRead:           message.IsRead,
		NotificationSent: message.NotificationSent,
		CreatedAt:        message.CreatedAt,
	}
}

// NewMessageResponseSlice converts a slice of models into DTOs.
func NewMessageResponseSlice(messages []models.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewMessageResponse(message))
	}
	return out
}

// SendMessageResult reports the outcome of a send, including the notification
// decision the sender-facing UI surfaces. A failed email never fails the send;
// EmailError carries the soft warning.
type SendMessageResult struct {
	Message                 MessageResponse `json:"message"`
	EmailSent               bool            `json:"email_sent"`
	EmailError              string          `json:"email_error,omitempty"`
	QueuedCount             int             `json:"queued_count"`
	CooldownRemainingSecond int64           `json:"cooldown_remaining_seconds"`
}

// PresenceResponse mirrors the ephemeral per-conversation presence state.
type PresenceResponse struct {
	OtherUserOnline   bool       `json:"other_user_online"`
	OtherUserLastSeen *time.Time `json:"other_user_last_seen,omitempty"`
}
