package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/novarell/expertdesk-api/internal/dto"
	"github.com/novarell/expertdesk-api/internal/middleware"
	"github.com/novarell/expertdesk-api/internal/service"
	"github.com/novarell/expertdesk-api/internal/utils"
)

// ChatHandler wires the per-conversation message endpoints including the
// websocket upgrade.
type ChatHandler struct {
	chat     service.ChatService
	presence *service.PresenceTracker
	logger   zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(chat service.ChatService, presence *service.PresenceTracker, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		chat:     chat,
		presence: presence,
		logger:   logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds conversation message routes under the provided router group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Get("/:id/messages", h.history)
	router.Post("/:id/messages", middleware.RateLimit("chat_send", 30, time.Minute), h.send)
	router.Post("/:id/read", h.markRead)
	router.Get("/:id/unread", h.unreadCount)
	router.Get("/:id/presence", h.presenceState)

	router.Use("/:id/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/:id/ws", websocket.New(h.handleConnection))
}

func (h *ChatHandler) send(c *fiber.Ctx) error {
	conversationID, err := parseIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	principal := middleware.PrincipalFromLocals(c)
	if principal.ID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	sender := service.Sender{ID: principal.ID, Role: principal.Role, Name: principal.Name}
	result, err := h.chat.SendMessage(requestContext(c), sender, conversationID, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrConversationNotFound):
			return utils.SendError(c, fiber.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrNotParticipant):
			return utils.SendError(c, fiber.StatusForbidden, err.Error())
		case errors.Is(err, service.ErrEmptyContent), isValidationError(err):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("conversation_id", conversationID).Msg("failed to send message")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to send message")
		}
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", result)
}

func (h *ChatHandler) history(c *fiber.Ctx) error {
	conversationID, err := parseIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	principal := middleware.PrincipalFromLocals(c)
	if principal.ID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	messages, err := h.chat.History(requestContext(c), conversationID, principal.ID, principal.Role)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrConversationNotFound):
			return utils.SendError(c, fiber.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrNotParticipant):
			return utils.SendError(c, fiber.StatusForbidden, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("conversation_id", conversationID).Msg("failed to load history")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to load history")
		}
	}

	return utils.SendSuccess(c, "conversation history", messages)
}

func (h *ChatHandler) markRead(c *fiber.Ctx) error {
	conversationID, err := parseIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	principal := middleware.PrincipalFromLocals(c)
	if principal.ID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	flipped, err := h.chat.MarkConversationRead(requestContext(c), conversationID, principal.ID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Uint("conversation_id", conversationID).Msg("failed to mark conversation read")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to mark conversation read")
	}

	return utils.SendSuccess(c, "conversation marked read", fiber.Map{"marked": flipped})
}

func (h *ChatHandler) unreadCount(c *fiber.Ctx) error {
	conversationID, err := parseIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	principal := middleware.PrincipalFromLocals(c)
	if principal.ID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	count, err := h.chat.UnreadCount(requestContext(c), conversationID, principal.ID, principal.Role)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrConversationNotFound):
			return utils.SendError(c, fiber.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrNotParticipant):
			return utils.SendError(c, fiber.StatusForbidden, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("conversation_id", conversationID).Msg("failed to count unread messages")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to count unread messages")
		}
	}

	return utils.SendSuccess(c, "conversation unread count", fiber.Map{"conversation_id": conversationID, "unread": count})
}

func (h *ChatHandler) presenceState(c *fiber.Ctx) error {
	conversationID, err := parseIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	principal := middleware.PrincipalFromLocals(c)
	if principal.ID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	state := h.presence.State(principal.ID, conversationID)
	return utils.SendSuccess(c, "presence state", state)
}

func (h *ChatHandler) handleConnection(conn *websocket.Conn) {
	userID := websocketUserID(conn)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "user id missing"))
		_ = conn.Close()
		return
	}

	raw := strings.TrimSpace(conn.Params("id"))
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusBadRequest, "invalid conversation id"))
		_ = conn.Close()
		return
	}
	conversationID := uint(parsed)

	role := fmt.Sprint(conn.Locals("user_role"))
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	opts := service.ConversationStreamOptions{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Context:        baseCtx,
	}

	h.logger.Info().Str("user_id", userID).Uint("conversation_id", conversationID).Msg("conversation websocket connected")
	h.chat.ServeConversation(conn, opts)
	h.logger.Info().Str("user_id", userID).Uint("conversation_id", conversationID).Msg("conversation websocket disconnected")
}

func websocketUserID(conn *websocket.Conn) string {
	if value := conn.Locals("user_id"); value != nil {
		if v, ok := value.(string); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

