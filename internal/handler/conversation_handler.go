package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/novarell/expertdesk-api/internal/dto"
	"github.com/novarell/expertdesk-api/internal/middleware"
	"github.com/novarell/expertdesk-api/internal/observability"
	"github.com/novarell/expertdesk-api/internal/service"
	"github.com/novarell/expertdesk-api/internal/utils"
)

// ConversationHandler serves the grouped conversation list and the unread
// badge, including its SSE stream.
type ConversationHandler struct {
	conversations service.ConversationService
	logger        zerolog.Logger
	keepAlive     time.Duration
}

// NewConversationHandler constructs a handler instance.
func NewConversationHandler(conversations service.ConversationService, logger zerolog.Logger, keepAlive time.Duration) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		logger:        logger.With().Str("component", "conversation_handler").Logger(),
		keepAlive:     keepAlive,
	}
}

// Register binds the conversation list routes.
func (h *ConversationHandler) Register(router fiber.Router) {
	router.Get("/conversations", h.list)
	router.Get("/unread", h.unread)
	router.Get("/unread/stream", h.stream)
}

func (h *ConversationHandler) list(c *fiber.Ctx) error {
	principal := middleware.PrincipalFromLocals(c)
	if principal.ID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	response, err := h.conversations.List(requestContext(c), principal.ID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list conversations")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list conversations")
	}

	return utils.SendSuccess(c, "conversations", response)
}

func (h *ConversationHandler) unread(c *fiber.Ctx) error {
	principal := middleware.PrincipalFromLocals(c)
	if principal.ID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	summary, err := h.conversations.Unread(requestContext(c), principal.ID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to compute unread summary")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to compute unread summary")
	}

	return utils.SendSuccess(c, "unread summary", summary)
}

func (h *ConversationHandler) stream(c *fiber.Ctx) error {
	principal := middleware.PrincipalFromLocals(c)
	if principal.ID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx := requestContext(c)
	ctx, cancel := context.WithCancel(ctx)

	stream, cleanup := h.conversations.SubscribeUnread(principal.ID)
	initial, err := h.conversations.Unread(ctx, principal.ID)
	if err != nil {
		cleanup()
		cancel()
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to seed unread stream")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to open unread stream")
	}

	keepAliveInterval := h.keepAlive
	if keepAliveInterval <= 0 {
		keepAliveInterval = 30 * time.Second
	}

	observability.UnreadStreamClients().Inc()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			cleanup()
			cancel()
			observability.UnreadStreamClients().Dec()
		}()

		if err := writeUnreadEvent(w, initial); err != nil {
			return
		}

		ticker := time.NewTicker(keepAliveInterval / 2)
		defer ticker.Stop()

		for {
			select {
			case summary, ok := <-stream:
				if !ok {
					return
				}
				if err := writeUnreadEvent(w, summary); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write unread event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write unread keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func writeUnreadEvent(w *bufio.Writer, summary dto.UnreadSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: unread\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": keep-alive %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return w.Flush()
}
