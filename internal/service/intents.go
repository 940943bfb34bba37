package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bookflow/internal/config"
	"bookflow/internal/domain"
	"bookflow/internal/fees"
	"bookflow/internal/metrics"
	"bookflow/internal/models"
)

// Submission is a client's cart as received at checkout.
type Submission struct {
	ClientID       string           `json:"client_id"`
	ClientEmail    string           `json:"client_email"`
	AffiliateID    *int64           `json:"affiliate_id,omitempty"`
	SalesRepID     *int64           `json:"sales_rep_id,omitempty"`
	Items          []fees.Selection `json:"items"`
	PreviouslyPaid bool             `json:"previously_paid"`
}

// IntentDetails is an intent together with everything created for it.
type IntentDetails struct {
	Intent          *models.BookingIntent    `json:"intent"`
	BookedServices  []*models.BookedService  `json:"booked_services"`
	Payments        []*models.Payment        `json:"payments"`
	BookingPayments []*models.BookingPayment `json:"booking_payments"`
}

type IntentService struct {
	stores          Stores
	calc            *fees.Calculator
	orchestrator    *Orchestrator
	bookingPayments *BookingPaymentService
	scheduler       domain.Scheduler
	booking         config.BookingConfig
	commissions     config.CommissionsConfig
	baseURL         string
	logger          *zerolog.Logger
	now             clock
}

func NewIntentService(
	stores Stores,
	calc *fees.Calculator,
	orchestrator *Orchestrator,
	bookingPayments *BookingPaymentService,
	scheduler domain.Scheduler,
	cfg *config.Config,
	logger *zerolog.Logger,
) *IntentService {
	return &IntentService{
		stores:          stores,
		calc:            calc,
		orchestrator:    orchestrator,
		bookingPayments: bookingPayments,
		scheduler:       scheduler,
		booking:         cfg.Booking,
		commissions:     cfg.Commissions,
		baseURL:         strings.TrimRight(cfg.App.BaseURL, "/"),
		logger:          logger,
		now:             time.Now,
	}
}

func (s *IntentService) validate(sub *Submission) error {
	sub.ClientID = strings.TrimSpace(sub.ClientID)
	sub.ClientEmail = strings.TrimSpace(sub.ClientEmail)

	if sub.ClientID == "" {
		return invalid("client_id", "required")
	}
	if sub.ClientEmail == "" {
		return invalid("client_email", "required")
	}
	if _, err := mail.ParseAddress(sub.ClientEmail); err != nil {
		return invalid("client_email", "invalid address")
	}
	if len(sub.Items) == 0 {
		return invalid("items", "at least one service is required")
	}

	for i, item := range sub.Items {
		def, ok := s.calc.Service(item.ServiceID)
		if !ok {
			return invalid(fmt.Sprintf("items[%d].service_id", i), "unknown service %d", item.ServiceID)
		}
		if def.IsPerUnit() && !item.UnitCount.IsPositive() {
			return invalid(fmt.Sprintf("items[%d].unit_count", i), "must be positive for %s rates", def.RateType)
		}
	}
	return nil
}

// Create validates and persists a submission, schedules the abandoned check
// and either completes the booking right away (previously paid, free or
// payment skipped) or creates its booking payments.
func (s *IntentService) Create(ctx context.Context, sub Submission) (*models.BookingIntent, error) {
	if err := s.validate(&sub); err != nil {
		return nil, err
	}

	items := make([]models.LineItem, 0, len(sub.Items))
	total := decimal.Zero
	for i, sel := range sub.Items {
		item, err := s.calc.LineItem(sel, s.commissions.TeamPercentageFor(sel.TeamID))
		if err != nil {
			return nil, invalid(fmt.Sprintf("items[%d]", i), "%v", err)
		}
		items = append(items, item)
		total = total.Add(item.ClientFeeDecimal())
	}

	intent := &models.BookingIntent{
		Status:         models.IntentIncomplete,
		ClientID:       sub.ClientID,
		ClientEmail:    sub.ClientEmail,
		AffiliateID:    sub.AffiliateID,
		SalesRepID:     sub.SalesRepID,
		LineItems:      items,
		TotalFee:       total,
		PreviouslyPaid: sub.PreviouslyPaid,
		TermsVersion:   s.booking.TermsVersion,
		TermsDocRef:    uuid.NewString(),
	}
	if err := s.stores.Intents.CreateIntent(ctx, intent); err != nil {
		return nil, err
	}
	metrics.IncIntentCreated()

	log := s.logger.With().Int64("intent_id", intent.ID).Logger()
	log.Info().Str("client_id", intent.ClientID).Str("total_fee", total.StringFixed(models.MoneyPlaces)).Msg("intent created")

	link := fmt.Sprintf("%s/checkout/%d", s.baseURL, intent.ID)
	if err := s.stores.Intents.UpdateIntentCheckoutLink(ctx, intent.ID, link); err != nil {
		log.Error().Err(err).Msg("Failed to store checkout link")
	}

	runAt := s.now().UTC().Add(s.booking.AbandonedTimeout)
	if _, err := s.scheduler.ScheduleOnce(ctx, JobAbandonedCheck, ref(intent.ID), runAt, nil); err != nil {
		log.Error().Err(err).Msg("Failed to schedule abandoned check")
	}

	if sub.PreviouslyPaid || !total.IsPositive() || s.booking.SkipPayment {
		if _, err := s.orchestrator.SuccessfulBooking(ctx, intent.ID); err != nil {
			log.Error().Err(err).Msg("Failed to complete booking")
		}
	} else if _, err := s.bookingPayments.CreateForIntent(ctx, intent); err != nil {
		log.Error().Err(err).Msg("Failed to create booking payments")
	}

	return s.stores.Intents.GetIntent(ctx, intent.ID)
}

func (s *IntentService) Get(ctx context.Context, id int64) (*models.BookingIntent, error) {
	return s.stores.Intents.GetIntent(ctx, id)
}

// Details loads the intent with its booked services, payments and booking
// payments.
func (s *IntentService) Details(ctx context.Context, id int64) (*IntentDetails, error) {
	intent, err := s.stores.Intents.GetIntent(ctx, id)
	if err != nil {
		return nil, err
	}

	d := &IntentDetails{Intent: intent}
	if d.BookedServices, err = s.stores.BookedServices.GetBookedServicesByIntent(ctx, id); err != nil {
		return nil, err
	}
	if d.Payments, err = s.stores.Payments.GetPaymentsByIntent(ctx, id); err != nil {
		return nil, err
	}
	if d.BookingPayments, err = s.stores.BookingPayments.GetBookingPaymentsByIntent(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateStatus applies an admin status change. Moving to succeeded runs the
// successful booking pipeline once; a succeeded intent cannot go back.
func (s *IntentService) UpdateStatus(ctx context.Context, id int64, status string) (*models.BookingIntent, error) {
	intent, err := s.stores.Intents.GetIntent(ctx, id)
	if err != nil {
		return nil, err
	}

	switch status {
	case models.IntentSucceeded:
		if _, err := s.orchestrator.SuccessfulBooking(ctx, id); err != nil {
			return nil, err
		}
	case models.IntentIncomplete:
		if intent.Status == models.IntentSucceeded {
			return nil, fmt.Errorf("%w: intent %d already succeeded", ErrInvalidTransition, id)
		}
		return intent, nil
	default:
		return nil, invalid("status", "unknown intent status %q", status)
	}

	return s.stores.Intents.GetIntent(ctx, id)
}

// UpdateNetFee deducts amount from the intent's running net fee.
func (s *IntentService) UpdateNetFee(ctx context.Context, id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	return s.stores.Intents.AdjustIntentNetFee(ctx, id, amount)
}

// Delete removes the intent with its booked services, payments, booking
// payments and briefs in one transaction, then cancels its pending jobs.
func (s *IntentService) Delete(ctx context.Context, id int64) error {
	payments, err := s.stores.Payments.GetPaymentsByIntent(ctx, id)
	if err != nil {
		return err
	}

	if err := s.stores.Intents.DeleteIntentCascade(ctx, id); err != nil {
		return err
	}

	var errs []error
	errs = append(errs, s.scheduler.Cancel(ctx, JobAbandonedCheck, ref(id)))
	for _, p := range payments {
		errs = append(errs, s.scheduler.Cancel(ctx, JobPaymentEligible, ref(p.ID)))
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error().Err(err).Int64("intent_id", id).Msg("Failed to cancel jobs of deleted intent")
	}

	s.logger.Info().Int64("intent_id", id).Int("payments", len(payments)).Msg("intent deleted")
	return nil
}
