package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bookflow/internal/domain"
	"bookflow/internal/events"
	"bookflow/internal/metrics"
	"bookflow/internal/models"
)

// Fan-out steps, used as log fields and metric labels.
const (
	StepProject        = "project"
	StepFiles          = "files"
	StepBookedServices = "booked_services"
	StepPayments       = "payments"
	StepBriefs         = "briefs"
)

// Orchestrator runs the successful booking pipeline. Only the caller that
// moves the intent to succeeded runs it; every step is idempotent on its own
// so a partial run can be resumed.
type Orchestrator struct {
	intents   domain.IntentRepository
	services  domain.BookedServiceRepository
	payments  *PaymentService
	projects  *ProjectService
	files     domain.FileStore
	scheduler domain.Scheduler
	locks     domain.LockRepository
	events    domain.EventPublisher
	lockTTL   time.Duration
	logger    *zerolog.Logger
}

func NewOrchestrator(
	stores Stores,
	payments *PaymentService,
	projects *ProjectService,
	files domain.FileStore,
	scheduler domain.Scheduler,
	locks domain.LockRepository,
	publisher domain.EventPublisher,
	logger *zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		intents:   stores.Intents,
		services:  stores.BookedServices,
		payments:  payments,
		projects:  projects,
		files:     files,
		scheduler: scheduler,
		locks:     locks,
		events:    publisher,
		lockTTL:   models.DefaultLockTTL,
		logger:    logger,
	}
}

// SuccessfulBooking marks the intent succeeded and, if this call made the
// transition, runs the fan-out and publishes booking_succeeded. Repeated
// calls return false and do nothing.
func (o *Orchestrator) SuccessfulBooking(ctx context.Context, intentID int64) (bool, error) {
	transitioned, err := o.intents.MarkIntentSucceeded(ctx, intentID)
	if err != nil {
		return false, err
	}
	if !transitioned {
		o.logger.Debug().Int64("intent_id", intentID).Msg("intent already succeeded")
		return false, nil
	}

	metrics.IncBookingSucceeded()
	o.logger.Info().Int64("intent_id", intentID).Msg("booking succeeded")

	if err := o.scheduler.Cancel(ctx, JobAbandonedCheck, ref(intentID)); err != nil {
		o.logger.Warn().Err(err).Int64("intent_id", intentID).Msg("Failed to cancel abandoned check")
	}

	intent, services := o.fanOut(ctx, intentID)
	if intent == nil {
		return true, nil
	}

	payload := events.NewIntentEventPayload(intent)
	for _, svc := range services {
		payload.BookedServiceIDs = append(payload.BookedServiceIDs, svc.ID)
	}
	if err := o.events.PublishJSON(events.EventBookingSucceeded, payload); err != nil {
		o.logger.Error().Err(err).Int64("intent_id", intentID).Msg("Failed to publish booking_succeeded")
	}
	return true, nil
}

// Resume re-runs the fan-out for an intent that already succeeded. No event
// is published.
func (o *Orchestrator) Resume(ctx context.Context, intentID int64) error {
	intent, err := o.intents.GetIntent(ctx, intentID)
	if err != nil {
		return err
	}
	if intent.Status != models.IntentSucceeded {
		return fmt.Errorf("%w: intent %d is %s", ErrInvalidTransition, intentID, intent.Status)
	}

	o.fanOut(ctx, intentID)
	return nil
}

func (o *Orchestrator) fanOut(ctx context.Context, intentID int64) (*models.BookingIntent, []*models.BookedService) {
	lockKey := fmt.Sprintf("fanout:%d", intentID)
	if o.locks != nil {
		locked, err := o.locks.TryLock(ctx, lockKey, o.lockTTL)
		switch {
		case err != nil:
			o.logger.Warn().Err(err).Int64("intent_id", intentID).Msg("fan-out lock unavailable, continuing")
		case !locked:
			o.logger.Info().Int64("intent_id", intentID).Msg("fan-out already running")
			return o.snapshot(ctx, intentID)
		default:
			defer func() {
				if err := o.locks.Unlock(context.WithoutCancel(ctx), lockKey); err != nil {
					o.logger.Warn().Err(err).Str("key", lockKey).Msg("Failed to release fan-out lock")
				}
			}()
		}
	}

	intent, err := o.intents.GetIntent(ctx, intentID)
	if err != nil {
		o.logger.Error().Err(err).Int64("intent_id", intentID).Msg("Failed to load intent for fan-out")
		return nil, nil
	}

	o.step(intentID, StepProject, o.resolveProject(ctx, intent))
	o.step(intentID, StepFiles, o.promoteFiles(ctx, intent))

	services, err := o.createBookedServices(ctx, intent)
	o.step(intentID, StepBookedServices, err)

	_, err = o.payments.CreatePaymentGroup(ctx, intent, services)
	o.step(intentID, StepPayments, err)

	if intent.ProjectID != nil {
		_, err = o.projects.CreateBriefs(ctx, *intent.ProjectID, services)
		o.step(intentID, StepBriefs, err)
	} else {
		o.step(intentID, StepBriefs, errors.New("no project resolved"))
	}

	return intent, services
}

func (o *Orchestrator) snapshot(ctx context.Context, intentID int64) (*models.BookingIntent, []*models.BookedService) {
	intent, err := o.intents.GetIntent(ctx, intentID)
	if err != nil {
		return nil, nil
	}
	services, _ := o.services.GetBookedServicesByIntent(ctx, intentID)
	return intent, services
}

func (o *Orchestrator) step(intentID int64, step string, err error) {
	if err == nil {
		return
	}
	metrics.IncFanoutFailure(step)
	o.logger.Error().Err(err).Int64("intent_id", intentID).Str("step", step).Msg("fan-out step failed")
}

func (o *Orchestrator) resolveProject(ctx context.Context, intent *models.BookingIntent) error {
	if intent.ProjectID != nil {
		return nil
	}
	p, err := o.projects.Resolve(ctx, intent)
	if err != nil {
		return err
	}
	if err := o.intents.UpdateIntentProject(ctx, intent.ID, p.ID); err != nil {
		return err
	}
	intent.ProjectID = &p.ID
	return nil
}

func (o *Orchestrator) promoteFiles(ctx context.Context, intent *models.BookingIntent) error {
	if o.files == nil {
		return nil
	}

	changed := false
	for i, item := range intent.LineItems {
		if len(item.Files) == 0 {
			continue
		}
		promoted, err := o.files.Promote(ctx, item.Files)
		if err != nil {
			return fmt.Errorf("line %d: %w", i, err)
		}
		intent.LineItems[i].Files = promoted
		changed = true
	}

	if !changed {
		return nil
	}
	return o.intents.UpdateIntentLineItems(ctx, intent.ID, intent.LineItems)
}

// createBookedServices creates one booked service per line item. Lines that
// already have one are loaded instead of duplicated.
func (o *Orchestrator) createBookedServices(ctx context.Context, intent *models.BookingIntent) ([]*models.BookedService, error) {
	projectID := int64(0)
	if intent.ProjectID != nil {
		projectID = *intent.ProjectID
	}

	services := make([]*models.BookedService, 0, len(intent.LineItems))
	var errs []error
	for i, item := range intent.LineItems {
		svc := &models.BookedService{
			IntentID:  intent.ID,
			LineIndex: i,
			Status:    models.ServicePending,
			ServiceID: item.ServiceID,
			Name:      item.ServiceName,
			ClientID:  intent.ClientID,
			TeamID:    item.TeamID,
			ProjectID: projectID,
			ClientFee: item.ClientFeeDecimal(),
			TeamFee:   item.TeamFeeDecimal(),
			Files:     item.Files,
		}
		created, err := o.services.CreateBookedService(ctx, svc)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", i, err))
			continue
		}
		if created {
			o.logger.Info().Int64("intent_id", intent.ID).Int64("booked_service_id", svc.ID).Str("name", svc.Name).Msg("booked service created")
		}
		services = append(services, svc)
	}
	return services, errors.Join(errs...)
}
