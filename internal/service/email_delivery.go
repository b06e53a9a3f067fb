package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/novarell/expertdesk-api/internal/models"
)

// EmailPayload is the flat payload handed to the email collaborator. The core
// owns the decision of whether to send; templating lives with the provider.
type EmailPayload struct {
	To              string
	Subject         string
	RecipientName   string
	SenderName      string
	MessagePreview  string
	ConversationURL string
}

// EmailDelivery dispatches a single notification email. Delivery is
// best-effort: failures surface as soft warnings and are never retried
// within the same cooldown window.
type EmailDelivery interface {
	Send(ctx context.Context, payload EmailPayload) error
}

// LogEmailDelivery is the default provider; it logs instead of sending.
type LogEmailDelivery struct {
	logger zerolog.Logger
}

// NewLogEmailDelivery constructs a logging email provider.
func NewLogEmailDelivery(logger zerolog.Logger) *LogEmailDelivery {
	return &LogEmailDelivery{logger: logger.With().Str("component", "email_delivery").Logger()}
}

// Send logs the payload and reports success.
func (d *LogEmailDelivery) Send(ctx context.Context, payload EmailPayload) error {
	d.logger.Info().
		Str("to", payload.To).
		Str("subject", payload.Subject).
		Str("conversation_url", payload.ConversationURL).
		Msg("notification email dispatched")
	return nil
}

// TeamNotifier pings the staff channel about conversations that need
// attention, such as messages on orders with no expert assigned yet.
type TeamNotifier interface {
	NotifyUnassigned(ctx context.Context, order models.Order, preview string) error
}

// LogTeamNotifier is the default staff-channel provider backed by the log.
type LogTeamNotifier struct {
	logger zerolog.Logger
}

// NewLogTeamNotifier constructs a logging team notifier.
func NewLogTeamNotifier(logger zerolog.Logger) *LogTeamNotifier {
	return &LogTeamNotifier{logger: logger.With().Str("component", "team_notifier").Logger()}
}

// NotifyUnassigned logs the alert and reports success.
func (n *LogTeamNotifier) NotifyUnassigned(ctx context.Context, order models.Order, preview string) error {
	n.logger.Info().
		Uint("order_id", order.ID).
		Str("reference", order.Reference).
		Str("preview", preview).
		Msg("message on unassigned order, staff attention needed")
	return nil
}
