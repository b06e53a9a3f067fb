package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/novarell/expertdesk-api/internal/models"
	"github.com/novarell/expertdesk-api/internal/observability"
	"github.com/novarell/expertdesk-api/internal/repository"
)

// SendEvaluation is the outcome of a notification decision for one send.
// QueuedCount and CooldownRemaining feed the sender-facing UI so it can offer
// an explicit batch send once the window elapses.
type SendEvaluation struct {
	ShouldEmail       bool
	QueuedCount       int
	CooldownRemaining time.Duration
}

// CooldownEngine decides, per (conversation, direction), whether an outbound
// message fires an email, queues silently, or needs no notification at all.
// The window is a hard floor: repeated manual notify requests cannot shorten
// it.
type CooldownEngine struct {
	store  repository.CooldownStore
	window time.Duration
	logger zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewCooldownEngine constructs the engine with the configured window.
func NewCooldownEngine(store repository.CooldownStore, window time.Duration, logger zerolog.Logger) *CooldownEngine {
	if window <= 0 {
		window = time.Hour
	}
	return &CooldownEngine{
		store:  store,
		window: window,
		logger: logger.With().Str("component", "cooldown_engine").Logger(),
		tracer: otel.Tracer("github.com/novarell/expertdesk-api/internal/service/cooldown"),
		now:    time.Now,
	}
}

// Window returns the configured cooldown duration.
func (e *CooldownEngine) Window() time.Duration {
	return e.window
}

// Evaluate applies the cooldown rules to one send attempt.
//
// Online recipients never get an email: the live channel delivers instantly
// and the queued count resets without consuming the window. Offline
// recipients get exactly one email per window; everything else queues.
// An unknown recipient (no expert assigned yet) neither emails nor
// accumulates. explicitNotify forces a fresh evaluation but never bypasses
// the floor.
func (e *CooldownEngine) Evaluate(ctx context.Context, conversationID uint, direction models.Direction, recipientKnown, recipientOnline, explicitNotify bool) (SendEvaluation, error) {
	ctx, span := e.tracer.Start(ctx, "cooldown.evaluate", trace.WithAttributes(
		attribute.Int64("conversation_id", int64(conversationID)),
		attribute.String("direction", string(direction)),
		attribute.Bool("recipient_online", recipientOnline),
		attribute.Bool("explicit_notify", explicitNotify),
	))
	defer span.End()

	if !recipientKnown {
		return SendEvaluation{}, nil
	}

	state, err := e.store.Get(ctx, conversationID, direction)
	if err != nil {
		span.RecordError(err)
		return SendEvaluation{}, err
	}

	if recipientOnline {
		if state.QueuedCount != 0 {
			state.QueuedCount = 0
			if err := e.store.Put(ctx, conversationID, direction, state); err != nil {
				span.RecordError(err)
				return SendEvaluation{}, err
			}
		}
		return SendEvaluation{}, nil
	}

	now := e.now().UTC()
	if state.LastNotifiedAt == nil || now.Sub(*state.LastNotifiedAt) >= e.window {
		state.LastNotifiedAt = &now
		state.QueuedCount = 0
		if err := e.store.Put(ctx, conversationID, direction, state); err != nil {
			span.RecordError(err)
			return SendEvaluation{}, err
		}
		return SendEvaluation{ShouldEmail: true}, nil
	}

	state.QueuedCount++
	if err := e.store.Put(ctx, conversationID, direction, state); err != nil {
		span.RecordError(err)
		return SendEvaluation{}, err
	}

	remaining := e.window - now.Sub(*state.LastNotifiedAt)
	observability.NotificationEmails().WithLabelValues("queued").Inc()
	e.logger.Debug().
		Uint("conversation_id", conversationID).
		Str("direction", string(direction)).
		Int("queued_count", state.QueuedCount).
		Dur("remaining", remaining).
		Msg("notification queued inside cooldown window")

	return SendEvaluation{QueuedCount: state.QueuedCount, CooldownRemaining: remaining}, nil
}
