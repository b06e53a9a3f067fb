package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/novarell/expertdesk-api/internal/dto"
	"github.com/novarell/expertdesk-api/internal/models"
	"github.com/novarell/expertdesk-api/internal/observability"
	"github.com/novarell/expertdesk-api/internal/realtime"
	"github.com/novarell/expertdesk-api/internal/repository"
)

const (
	chatSendBufferSize     = 32
	previewMaxLength       = 140
	defaultStreamKeepAlive = 30 * time.Second

	topicMessages = "conversation.messages"
	topicUnread   = "unread.changed"
)

// Chat error taxonomy. Storage and authorisation failures abort the action;
// delivery failures degrade to soft warnings on the result.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("sender not a participant of the conversation")
	ErrEmptyContent         = errors.New("message content empty after sanitization")
)

// Sender identifies the authenticated principal posting a message.
type Sender struct {
	ID   string
	Role string
	Name string
}

// ConversationStreamOptions wraps metadata extracted during the HTTP upgrade.
type ConversationStreamOptions struct {
	ConversationID uint
	UserID         string
	Role           string
	Context        context.Context
}

// ChatService owns message sends, history reads, and live conversation
// streams.
type ChatService interface {
	SendMessage(ctx context.Context, sender Sender, conversationID uint, req dto.SendMessageRequest) (dto.SendMessageResult, error)
	History(ctx context.Context, conversationID uint, viewerID, role string) ([]dto.MessageResponse, error)
	MarkConversationRead(ctx context.Context, conversationID uint, viewerID string) (int64, error)
	UnreadCount(ctx context.Context, conversationID uint, viewerID, role string) (int64, error)
	ServeConversation(conn *websocket.Conn, opts ConversationStreamOptions)
	Start(ctx context.Context)
}

type chatService struct {
	orders       repository.OrderRepository
	messages     repository.MessageRepository
	cooldown     *CooldownEngine
	presence     *PresenceTracker
	readReceipts *ReadReceiptService
	transport    realtime.Transport
	delivery     EmailDelivery
	teamNotifier TeamNotifier
	validator    *validator.Validate
	sanitizer    *bluemonday.Policy
	logger       zerolog.Logger
	tracer       trace.Tracer
	hub          *conversationHub
	baseURL      string
	keepAlive    time.Duration
}

type messageEvent struct {
	ConversationID uint                `json:"conversation_id"`
	Message        dto.MessageResponse `json:"message"`
}

type unreadEvent struct {
	UserKey string `json:"user_key"`
}

// ChatServiceDeps groups the collaborators of the chat service.
type ChatServiceDeps struct {
	Orders       repository.OrderRepository
	Messages     repository.MessageRepository
	Cooldown     *CooldownEngine
	Presence     *PresenceTracker
	ReadReceipts *ReadReceiptService
	Transport    realtime.Transport
	Delivery     EmailDelivery
	TeamNotifier TeamNotifier
	Validator    *validator.Validate
	BaseURL      string
	KeepAlive    time.Duration
}

// NewChatService creates the chat service instance.
func NewChatService(deps ChatServiceDeps, logger zerolog.Logger) ChatService {
	keepAlive := deps.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultStreamKeepAlive
	}

	return &chatService{
		orders:       deps.Orders,
		messages:     deps.Messages,
		cooldown:     deps.Cooldown,
		presence:     deps.Presence,
		readReceipts: deps.ReadReceipts,
		transport:    deps.Transport,
		delivery:     deps.Delivery,
		teamNotifier: deps.TeamNotifier,
		validator:    deps.Validator,
		sanitizer:    bluemonday.StrictPolicy(),
		logger:       logger.With().Str("component", "chat_service").Logger(),
		tracer:       otel.Tracer("github.com/novarell/expertdesk-api/internal/service/chat"),
		hub: &conversationHub{
			conversations: make(map[uint]map[*conversationClient]struct{}),
			log:           logger.With().Str("component", "conversation_hub").Logger(),
		},
		baseURL:   strings.TrimRight(deps.BaseURL, "/"),
		keepAlive: keepAlive,
	}
}

func (s *chatService) Start(ctx context.Context) {
	s.transport.Subscribe(topicMessages, s.handleMessageEvent)
}

func (s *chatService) SendMessage(ctx context.Context, sender Sender, conversationID uint, req dto.SendMessageRequest) (dto.SendMessageResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SendMessageResult{}, err
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(req.Content))
	if clean == "" {
		return dto.SendMessageResult{}, ErrEmptyContent
	}

	order, err := s.orders.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SendMessageResult{}, ErrConversationNotFound
		}
		return dto.SendMessageResult{}, err
	}

	senderRole := normaliseSenderRole(sender.Role)
	if senderRole != models.SenderRoleSystem && !order.IsParticipant(sender.ID) {
		return dto.SendMessageResult{}, ErrNotParticipant
	}

	ctx, span := s.tracer.Start(ctx, "chat.send", trace.WithAttributes(
		attribute.Int64("conversation_id", int64(conversationID)),
		attribute.String("sender_role", senderRole),
		attribute.Bool("explicit_notify", req.Notify),
	))
	defer span.End()

	model := models.Message{
		ConversationID: conversationID,
		SenderRole:     senderRole,
		SenderID:       sender.ID,
		Content:        clean,
	}
	if err := s.messages.Insert(ctx, &model); err != nil {
		span.RecordError(err)
		return dto.SendMessageResult{}, err
	}

	response := dto.NewMessageResponse(model)
	s.publishMessage(ctx, messageEvent{ConversationID: conversationID, Message: response})
	observability.ChatMessagesSent().WithLabelValues(senderRole).Inc()

	result := dto.SendMessageResult{Message: response}

	direction, notifiable := models.DirectionForRole(senderRole)
	if !notifiable {
		return result, nil
	}

	recipientID, recipientName, recipientEmail := recipientOf(order, direction)
	recipientKnown := recipientID != ""

	recipientOnline := false
	if recipientKnown {
		online, err := s.transport.IsOnline(ctx, recipientID)
		if err != nil {
			s.logger.Warn().Err(err).Str("recipient_id", recipientID).Msg("presence lookup failed, assuming offline")
		} else {
			recipientOnline = online
		}
	}

	evaluation, err := s.cooldown.Evaluate(ctx, conversationID, direction, recipientKnown, recipientOnline, req.Notify)
	if err != nil {
		// A broken cooldown store must not block the send. Suppressing the
		// email is the spam-safe direction.
		span.RecordError(err)
		s.logger.Warn().Err(err).Uint("conversation_id", conversationID).Msg("cooldown evaluation failed, suppressing email")
		evaluation = SendEvaluation{}
	}

	result.QueuedCount = evaluation.QueuedCount
	result.CooldownRemainingSecond = int64(evaluation.CooldownRemaining / time.Second)

	if evaluation.ShouldEmail {
		payload := EmailPayload{
			To:              recipientEmail,
			Subject:         fmt.Sprintf("New message on order %s", order.Reference),
			RecipientName:   recipientName,
			SenderName:      senderDisplayName(sender, order, direction),
			MessagePreview:  preview(clean),
			ConversationURL: fmt.Sprintf("%s/conversations/%d", s.baseURL, conversationID),
		}
		if err := s.delivery.Send(ctx, payload); err != nil {
			// The attempt is consumed either way: lastNotifiedAt stays put so
			// a flaky provider cannot trigger a retry storm.
			span.RecordError(err)
			s.logger.Warn().Err(err).Uint("conversation_id", conversationID).Msg("notification email failed")
			observability.NotificationEmails().WithLabelValues("failed").Inc()
			result.EmailError = err.Error()
		} else {
			if err := s.messages.MarkNotified(ctx, model.ID); err != nil {
				s.logger.Warn().Err(err).Uint("message_id", model.ID).Msg("failed to flag message as notified")
			}
			result.EmailSent = true
			result.Message.NotificationSent = true
			observability.NotificationEmails().WithLabelValues("sent").Inc()
		}
	}

	if !recipientKnown {
		if err := s.teamNotifier.NotifyUnassigned(ctx, order, preview(clean)); err != nil {
			s.logger.Warn().Err(err).Uint("conversation_id", conversationID).Msg("team notification failed")
		}
	} else {
		s.publishUnread(ctx, recipientID)
	}

	return result, nil
}

func (s *chatService) History(ctx context.Context, conversationID uint, viewerID, role string) ([]dto.MessageResponse, error) {
	order, err := s.orders.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	if role != "admin" && !order.IsParticipant(viewerID) {
		return nil, ErrNotParticipant
	}

	messages, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	return dto.NewMessageResponseSlice(messages), nil
}

func (s *chatService) MarkConversationRead(ctx context.Context, conversationID uint, viewerID string) (int64, error) {
	flipped, err := s.readReceipts.OnConversationOpened(ctx, conversationID, viewerID)
	if err != nil {
		return 0, err
	}

	if flipped > 0 {
		s.publishUnread(ctx, viewerID)
	}
	return flipped, nil
}

// UnreadCount reports how many counterpart messages the viewer has not read
// in one conversation. Recomputed per call, never cached.
func (s *chatService) UnreadCount(ctx context.Context, conversationID uint, viewerID, role string) (int64, error) {
	order, err := s.orders.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrConversationNotFound
		}
		return 0, err
	}

	if role != "admin" && !order.IsParticipant(viewerID) {
		return 0, ErrNotParticipant
	}

	return s.messages.CountUnread(ctx, conversationID, viewerID)
}

func (s *chatService) ServeConversation(conn *websocket.Conn, opts ConversationStreamOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	order, err := s.orders.FindByID(baseCtx, opts.ConversationID)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "conversation not found"))
		_ = conn.Close()
		return
	}

	if opts.Role != "admin" && !order.IsParticipant(opts.UserID) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "not a participant"))
		_ = conn.Close()
		return
	}

	otherID := order.CounterpartOf(opts.UserID)
	if otherID == "" && opts.Role == "admin" {
		otherID = order.CustomerID
	}

	client := &conversationClient{
		conn:    conn,
		send:    make(chan dto.MessageResponse, chatSendBufferSize),
		options: opts,
		service: s,
		closed:  make(chan struct{}),
		baseCtx: baseCtx,
	}

	s.hub.register(client)
	observability.ChatConnections().Inc()

	if err := s.transport.Announce(baseCtx, opts.UserID, true); err != nil {
		s.logger.Warn().Err(err).Str("user_id", opts.UserID).Msg("presence join announcement failed")
	}
	s.presence.Open(baseCtx, opts.UserID, opts.ConversationID, otherID)

	// Opening the stream is opening the conversation: everything unread from
	// the counterpart is marked in one batch.
	if _, err := s.MarkConversationRead(baseCtx, opts.ConversationID, opts.UserID); err != nil {
		s.logger.Warn().Err(err).Uint("conversation_id", opts.ConversationID).Msg("failed to mark conversation read on open")
	}

	go client.writer()
	client.reader()

	s.presence.Close(opts.UserID)
	if err := s.transport.Announce(baseCtx, opts.UserID, false); err != nil {
		s.logger.Warn().Err(err).Str("user_id", opts.UserID).Msg("presence leave announcement failed")
	}
	observability.ChatConnections().Dec()
}

func (s *chatService) publishMessage(ctx context.Context, event messageEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal message event")
		return
	}
	if err := s.transport.Publish(ctx, topicMessages, payload); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish message event")
	}
}

func (s *chatService) publishUnread(ctx context.Context, userKey string) {
	payload, err := json.Marshal(unreadEvent{UserKey: userKey})
	if err != nil {
		return
	}
	if err := s.transport.Publish(ctx, topicUnread, payload); err != nil {
		s.logger.Warn().Err(err).Str("user_key", userKey).Msg("failed to publish unread event")
	}
}

func (s *chatService) handleMessageEvent(data []byte) {
	var event messageEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid message event")
		return
	}

	s.hub.broadcast(event.ConversationID, event.Message)
}

func normaliseSenderRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case models.SenderRoleCustomer:
		return models.SenderRoleCustomer
	case models.SenderRoleExpert:
		return models.SenderRoleExpert
	default:
		// Admin and unknown principals post as system: exempt from
		// notification and read-receipt handling.
		return models.SenderRoleSystem
	}
}

func recipientOf(order models.Order, direction models.Direction) (id, name, email string) {
	if direction == models.DirectionCustomerToExpert {
		return order.ExpertID, order.ExpertName, order.ExpertEmail
	}
	return order.CustomerID, order.CustomerName, order.CustomerEmail
}

func senderDisplayName(sender Sender, order models.Order, direction models.Direction) string {
	if sender.Name != "" {
		return sender.Name
	}
	if direction == models.DirectionCustomerToExpert {
		return order.CustomerName
	}
	return order.ExpertName
}

// preview truncates on a rune boundary so a multi-byte character is never
// split into invalid UTF-8.
func preview(content string) string {
	if len(content) <= previewMaxLength {
		return content
	}
	cut := previewMaxLength
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "…"
}

// conversationHub keeps track of active stream clients per conversation.
type conversationHub struct {
	mu            sync.RWMutex
	conversations map[uint]map[*conversationClient]struct{}
	log           zerolog.Logger
}

type conversationClient struct {
	conn    *websocket.Conn
	send    chan dto.MessageResponse
	options ConversationStreamOptions
	service *chatService
	closed  chan struct{}
	once    sync.Once
	baseCtx context.Context
}

func (h *conversationHub) register(client *conversationClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := client.options.ConversationID
	if _, exists := h.conversations[id]; !exists {
		h.conversations[id] = make(map[*conversationClient]struct{})
	}
	h.conversations[id][client] = struct{}{}
	h.log.Debug().Uint("conversation_id", id).Str("user_id", client.options.UserID).Msg("conversation stream connected")
}

func (h *conversationHub) unregister(client *conversationClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := client.options.ConversationID
	if clients, ok := h.conversations[id]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.conversations, id)
		}
	}
	h.log.Debug().Uint("conversation_id", id).Str("user_id", client.options.UserID).Msg("conversation stream disconnected")
}

func (h *conversationHub) broadcast(conversationID uint, message dto.MessageResponse) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.conversations[conversationID] {
		select {
		case client.send <- message:
		default:
			h.log.Warn().Uint("conversation_id", conversationID).Str("user_id", client.options.UserID).Msg("dropping message for slow stream client")
		}
	}
}

func (c *conversationClient) reader() {
	defer c.close()

	for {
		var payload dto.SendMessageRequest
		if err := c.conn.ReadJSON(&payload); err != nil {
			c.service.logger.Debug().Err(err).Msg("conversation read loop ended")
			return
		}

		sender := Sender{ID: c.options.UserID, Role: c.options.Role}
		if _, err := c.service.SendMessage(c.baseCtx, sender, c.options.ConversationID, payload); err != nil {
			c.service.logger.Warn().Err(err).Msg("failed to process streamed message")
		}
	}
}

func (c *conversationClient) writer() {
	defer c.close()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			message = c.markViewed(message)
			if err := c.conn.WriteJSON(message); err != nil {
				c.service.logger.Debug().Err(err).Msg("conversation write loop terminated")
				return
			}
		case <-time.After(c.service.keepAlive):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.service.logger.Debug().Err(err).Msg("conversation ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

// markViewed issues a read receipt for counterpart messages delivered while
// the viewer is watching the stream.
func (c *conversationClient) markViewed(message dto.MessageResponse) dto.MessageResponse {
	if message.SenderID == c.options.UserID || message.SenderRole == models.SenderRoleSystem || message.IsRead {
		return message
	}

	model := models.Message{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		SenderRole:     message.SenderRole,
		SenderID:       message.SenderID,
		IsRead:         message.IsRead,
	}
	marked := c.service.readReceipts.OnMessageReceived(c.baseCtx, model, c.options.UserID)
	message.IsRead = marked.IsRead
	c.service.publishUnread(c.baseCtx, c.options.UserID)

	return message
}

func (c *conversationClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.service.hub.unregister(c)
		_ = c.conn.Close()
	})
}
