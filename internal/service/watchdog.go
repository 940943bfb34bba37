package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"bookflow/internal/database"
	"bookflow/internal/domain"
	"bookflow/internal/events"
	"bookflow/internal/models"
)

// Watchdog reports bookings that never succeeded.
type Watchdog struct {
	intents domain.IntentRepository
	events  domain.EventPublisher
	logger  *zerolog.Logger
}

func NewWatchdog(intents domain.IntentRepository, publisher domain.EventPublisher, logger *zerolog.Logger) *Watchdog {
	return &Watchdog{intents: intents, events: publisher, logger: logger}
}

// Handle is the scheduler handler for JobAbandonedCheck.
func (w *Watchdog) Handle(ctx context.Context, job models.Job) error {
	id, err := parseRef(job)
	if err != nil {
		return err
	}

	intent, err := w.intents.GetIntent(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if intent.Status == models.IntentSucceeded {
		return nil
	}

	w.logger.Info().Int64("intent_id", id).Str("client_email", intent.ClientEmail).Msg("booking abandoned")
	return w.events.PublishJSON(events.EventBookingAbandoned, events.NewIntentEventPayload(intent))
}
