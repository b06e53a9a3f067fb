package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/novarell/expertdesk-api/internal/dto"
	"github.com/novarell/expertdesk-api/internal/models"
	"github.com/novarell/expertdesk-api/internal/realtime"
	"github.com/novarell/expertdesk-api/internal/repository"
)

const unreadStreamBufferSize = 8

// ConversationService materializes the viewer-facing conversation list and the
// unread badge, both recomputed on demand from the stores.
type ConversationService interface {
	List(ctx context.Context, viewerID string) (dto.ConversationListResponse, error)
	Unread(ctx context.Context, viewerID string) (dto.UnreadSummary, error)
	SubscribeUnread(viewerID string) (<-chan dto.UnreadSummary, func())
	Start(ctx context.Context)
}

type conversationService struct {
	orders        repository.OrderRepository
	messages      repository.MessageRepository
	transport     realtime.Transport
	closingWindow time.Duration
	logger        zerolog.Logger
	tracer        trace.Tracer
	broker        *unreadBroker
	now           func() time.Time
}

// NewConversationService constructs the conversation listing service.
func NewConversationService(orders repository.OrderRepository, messages repository.MessageRepository, transport realtime.Transport, closingWindow time.Duration, logger zerolog.Logger) ConversationService {
	if closingWindow <= 0 {
		closingWindow = 48 * time.Hour
	}
	return &conversationService{
		orders:        orders,
		messages:      messages,
		transport:     transport,
		closingWindow: closingWindow,
		logger:        logger.With().Str("component", "conversation_service").Logger(),
		tracer:        otel.Tracer("github.com/novarell/expertdesk-api/internal/service/conversations"),
		broker:        newUnreadBroker(logger),
		now:           time.Now,
	}
}

func (s *conversationService) Start(ctx context.Context) {
	s.transport.Subscribe(topicUnread, func(data []byte) {
		var event unreadEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.logger.Warn().Err(err).Msg("invalid unread event")
			return
		}
		s.pushUnread(ctx, event.UserKey)
	})
}

// List returns the viewer's conversations grouped by lifecycle stage. Stage is
// derived fresh on every call; nothing is cached between requests. Orders with
// no expert assigned never appear in any bucket.
func (s *conversationService) List(ctx context.Context, viewerID string) (dto.ConversationListResponse, error) {
	ctx, span := s.tracer.Start(ctx, "conversations.list", trace.WithAttributes(
		attribute.String("viewer_id", viewerID),
	))
	defer span.End()

	orders, err := s.orders.ListByParticipant(ctx, viewerID)
	if err != nil {
		span.RecordError(err)
		return dto.ConversationListResponse{}, err
	}

	ids := make([]uint, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}

	unread, err := s.messages.UnreadByConversation(ctx, ids, viewerID)
	if err != nil {
		span.RecordError(err)
		return dto.ConversationListResponse{}, err
	}

	now := s.now().UTC()
	response := dto.ConversationListResponse{
		Active: []dto.ConversationSummary{},
		Ready:  []dto.ConversationSummary{},
		Closed: []dto.ConversationSummary{},
	}

	for _, order := range orders {
		latest, hasMessages, err := s.latestMessage(ctx, order.ID)
		if err != nil {
			span.RecordError(err)
			return dto.ConversationListResponse{}, err
		}

		stage, listed := ClassifyConversation(order, hasMessages, s.closingWindow, now)
		if !listed {
			continue
		}

		summary := dto.NewConversationSummary(order, stage, unread[order.ID], latest)
		switch stage {
		case StageActive:
			response.Active = append(response.Active, summary)
		case StageReady:
			response.Ready = append(response.Ready, summary)
		case StageClosed:
			response.Closed = append(response.Closed, summary)
		}
	}

	sortActive(response.Active)
	sortByCreation(response.Ready)
	sortByCreation(response.Closed)

	return response, nil
}

// Unread computes the viewer's badge: total unread plus per-conversation
// counts, restricted to conversations that currently classify into a bucket.
func (s *conversationService) Unread(ctx context.Context, viewerID string) (dto.UnreadSummary, error) {
	ctx, span := s.tracer.Start(ctx, "conversations.unread", trace.WithAttributes(
		attribute.String("viewer_id", viewerID),
	))
	defer span.End()

	orders, err := s.orders.ListByParticipant(ctx, viewerID)
	if err != nil {
		span.RecordError(err)
		return dto.UnreadSummary{}, err
	}

	now := s.now().UTC()
	ids := make([]uint, 0, len(orders))
	for _, order := range orders {
		hasMessages, err := s.messages.HasMessages(ctx, order.ID)
		if err != nil {
			span.RecordError(err)
			return dto.UnreadSummary{}, err
		}
		if _, listed := ClassifyConversation(order, hasMessages, s.closingWindow, now); listed {
			ids = append(ids, order.ID)
		}
	}

	counts, err := s.messages.UnreadByConversation(ctx, ids, viewerID)
	if err != nil {
		span.RecordError(err)
		return dto.UnreadSummary{}, err
	}

	summary := dto.UnreadSummary{Conversations: counts, ComputedAt: now}
	for _, count := range counts {
		summary.Total += count
	}

	return summary, nil
}

// SubscribeUnread registers a live badge stream for the viewer. The returned
// cancel function must be called when the stream ends.
func (s *conversationService) SubscribeUnread(viewerID string) (<-chan dto.UnreadSummary, func()) {
	return s.broker.subscribe(viewerID)
}

func (s *conversationService) pushUnread(ctx context.Context, viewerID string) {
	if !s.broker.hasSubscribers(viewerID) {
		return
	}

	summary, err := s.Unread(ctx, viewerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return
		}
		s.logger.Warn().Err(err).Str("viewer_id", viewerID).Msg("failed to recompute unread summary")
		return
	}

	s.broker.publish(viewerID, summary)
}

// unreadBroker fans fresh badge summaries out to per-viewer SSE subscribers.
type unreadBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.UnreadSummary]struct{}
	log         zerolog.Logger
}

func newUnreadBroker(logger zerolog.Logger) *unreadBroker {
	return &unreadBroker{
		subscribers: make(map[string]map[chan dto.UnreadSummary]struct{}),
		log:         logger.With().Str("component", "unread_broker").Logger(),
	}
}

func (b *unreadBroker) subscribe(viewerID string) (<-chan dto.UnreadSummary, func()) {
	ch := make(chan dto.UnreadSummary, unreadStreamBufferSize)

	b.mu.Lock()
	if _, exists := b.subscribers[viewerID]; !exists {
		b.subscribers[viewerID] = make(map[chan dto.UnreadSummary]struct{})
	}
	b.subscribers[viewerID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if chans, ok := b.subscribers[viewerID]; ok {
			if _, ok := chans[ch]; ok {
				delete(chans, ch)
				close(ch)
			}
			if len(chans) == 0 {
				delete(b.subscribers, viewerID)
			}
		}
		b.mu.Unlock()
	}

	return ch, cancel
}

func (b *unreadBroker) hasSubscribers(viewerID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[viewerID]) > 0
}

func (b *unreadBroker) publish(viewerID string, summary dto.UnreadSummary) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[viewerID] {
		select {
		case ch <- summary:
		default:
			b.log.Warn().Str("viewer_id", viewerID).Msg("dropping unread update for slow subscriber")
		}
	}
}

func (s *conversationService) latestMessage(ctx context.Context, conversationID uint) (*models.Message, bool, error) {
	message, err := s.messages.LatestByConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &message, true, nil
}
