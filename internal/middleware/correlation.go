package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type ctxCorrelationKey struct{}

const correlationHeader = "X-Correlation-ID"

// CorrelationID tags every request with an identifier so log lines for one
// request can be stitched together across services. An inbound header wins,
// falling back to X-Request-ID, otherwise a fresh UUID is minted. The chosen
// value is echoed on the response and stored in both Locals and the user
// context.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(correlationHeader))
		if id == "" {
			id = strings.TrimSpace(c.Get("X-Request-ID"))
		}
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals("correlation_id", id)
		c.Set(correlationHeader, id)
		c.SetUserContext(context.WithValue(c.Context(), ctxCorrelationKey{}, id))

		return c.Next()
	}
}

// GetCorrelationID returns the identifier bound to the active request, or ""
// when the middleware did not run.
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals("correlation_id").(string); ok {
		return id
	}
	return correlationFromContext(c.Context())
}

// ContextWithCorrelation attaches the identifier to a context that outlives
// the fiber request, such as the one handed to a websocket session.
func ContextWithCorrelation(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxCorrelationKey{}, correlationID)
}

func correlationFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxCorrelationKey{}).(string)
	return id
}
