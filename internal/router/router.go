package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/novarell/expertdesk-api/internal/config"
	"github.com/novarell/expertdesk-api/internal/handler"
	"github.com/novarell/expertdesk-api/internal/middleware"
	"github.com/novarell/expertdesk-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler         *handler.ChatHandler
	ConversationHandler *handler.ConversationHandler
	OrderHandler        *handler.OrderHandler
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.ConversationHandler != nil {
		badge := app.Group("/api/v1", jwtMiddleware)
		deps.ConversationHandler.Register(badge)
	}

	if deps.ChatHandler != nil {
		conversations := app.Group("/api/v1/conversations", jwtMiddleware)
		deps.ChatHandler.Register(conversations)
	}

	if deps.OrderHandler != nil {
		orders := app.Group("/api/v1/orders", jwtMiddleware, middleware.RequireRole("admin"))
		deps.OrderHandler.Register(orders)
	}
}
