package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/novarell/expertdesk-api/internal/models"
)

// MessageRepository persists the append-only per-conversation message log.
type MessageRepository interface {
	Insert(ctx context.Context, message *models.Message) error
	ListByConversation(ctx context.Context, conversationID uint) ([]models.Message, error)
	LatestByConversation(ctx context.Context, conversationID uint) (models.Message, error)
	HasMessages(ctx context.Context, conversationID uint) (bool, error)
	MarkRead(ctx context.Context, messageID uint) error
	MarkConversationRead(ctx context.Context, conversationID uint, viewerID string) (int64, error)
	MarkNotified(ctx context.Context, messageID uint) error
	CountUnread(ctx context.Context, conversationID uint, viewerID string) (int64, error)
	UnreadByConversation(ctx context.Context, conversationIDs []uint, viewerID string) (map[uint]int64, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Insert(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

// ListByConversation returns the full log in insertion order. Clients must
// never reorder; created_at ascending with ID as tiebreaker is authoritative.
func (r *messageRepository) ListByConversation(ctx context.Context, conversationID uint) ([]models.Message, error) {
	var messages []models.Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *messageRepository) LatestByConversation(ctx context.Context, conversationID uint) (models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		First(&message).Error
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (r *messageRepository) HasMessages(ctx context.Context, conversationID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ?", conversationID).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkRead flips is_read for a single message. The guard on is_read keeps the
// transition monotonic even under racing callers.
func (r *messageRepository) MarkRead(ctx context.Context, messageID uint) error {
	return r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND is_read = ?", messageID, false).
		Update("is_read", true).Error
}

// MarkConversationRead marks every unread counterpart message in one batch,
// excluding system and self-authored entries. Returns the number flipped.
func (r *messageRepository) MarkConversationRead(ctx context.Context, conversationID uint, viewerID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND sender_role <> ? AND is_read = ?",
			conversationID, viewerID, models.SenderRoleSystem, false).
		Update("is_read", true)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *messageRepository) MarkNotified(ctx context.Context, messageID uint) error {
	return r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND notification_sent = ?", messageID, false).
		Update("notification_sent", true).Error
}

func (r *messageRepository) CountUnread(ctx context.Context, conversationID uint, viewerID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND sender_role <> ? AND is_read = ?",
			conversationID, viewerID, models.SenderRoleSystem, false).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *messageRepository) UnreadByConversation(ctx context.Context, conversationIDs []uint, viewerID string) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return counts, nil
	}

	type row struct {
		ConversationID uint
		Total          int64
	}

	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Select("conversation_id, COUNT(*) AS total").
		Where("conversation_id IN ? AND sender_id <> ? AND sender_role <> ? AND is_read = ?",
			conversationIDs, viewerID, models.SenderRoleSystem, false).
		Group("conversation_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	for _, r := range rows {
		counts[r.ConversationID] = r.Total
	}
	return counts, nil
}
