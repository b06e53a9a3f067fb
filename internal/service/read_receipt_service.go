package service

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/novarell/expertdesk-api/internal/models"
	"github.com/novarell/expertdesk-api/internal/repository"
)

// ReadReceiptService marks inbound messages read for the viewing recipient
// and reconciles optimistic local state with what the store confirms.
type ReadReceiptService struct {
	messages repository.MessageRepository
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// NewReadReceiptService constructs the reconciler.
func NewReadReceiptService(messages repository.MessageRepository, logger zerolog.Logger) *ReadReceiptService {
	return &ReadReceiptService{
		messages: messages,
		logger:   logger.With().Str("component", "read_receipts").Logger(),
		tracer:   otel.Tracer("github.com/novarell/expertdesk-api/internal/service/readreceipts"),
	}
}

// OnMessageReceived handles a single message delivered to a live viewer.
// Self-authored and system messages are never marked. The returned copy is
// optimistically read; a store rejection keeps the optimistic state rather
// than flickering back to unread.
func (s *ReadReceiptService) OnMessageReceived(ctx context.Context, message models.Message, viewerID string) models.Message {
	if !message.CountsTowardUnread(viewerID) {
		return message
	}

	message.IsRead = true
	if err := s.messages.MarkRead(ctx, message.ID); err != nil {
		s.logger.Warn().Err(err).Uint("message_id", message.ID).Msg("mark-read failed, keeping optimistic state")
	}

	return message
}

// OnConversationOpened batch-marks every unread counterpart message, oldest
// first, and returns the number flipped.
func (s *ReadReceiptService) OnConversationOpened(ctx context.Context, conversationID uint, viewerID string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "readreceipts.conversation_opened", trace.WithAttributes(
		attribute.Int64("conversation_id", int64(conversationID)),
	))
	defer span.End()

	flipped, err := s.messages.MarkConversationRead(ctx, conversationID, viewerID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	return flipped, nil
}

// MergeMessages reconciles a locally staged message list with a confirmed
// refetch. The two feeds race, so entries are de-duplicated by ID, never by
// position, and is_read only ever moves false to true. The result is in
// insertion order.
func MergeMessages(local, confirmed []models.Message) []models.Message {
	byID := make(map[uint]models.Message, len(local)+len(confirmed))
	for _, message := range local {
		byID[message.ID] = message
	}
	for _, message := range confirmed {
		if existing, ok := byID[message.ID]; ok && existing.IsRead {
			message.IsRead = true
		}
		if existing, ok := byID[message.ID]; ok && existing.NotificationSent {
			message.NotificationSent = true
		}
		byID[message.ID] = message
	}

	merged := make([]models.Message, 0, len(byID))
	for _, message := range byID {
		merged = append(merged, message)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].ID < merged[j].ID
		}
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})

	return merged
}
