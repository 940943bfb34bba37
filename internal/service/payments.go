package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bookflow/internal/config"
	"bookflow/internal/database"
	"bookflow/internal/domain"
	"bookflow/internal/events"
	"bookflow/internal/fees"
	"bookflow/internal/models"
)

// PaymentService manages commission payouts: the payment group created at
// booking success, the delayed eligibility transition and paid bookkeeping.
type PaymentService struct {
	repo        domain.PaymentRepository
	intents     domain.IntentRepository
	scheduler   domain.Scheduler
	events      domain.EventPublisher
	commissions config.CommissionsConfig
	windowDays  int
	logger      *zerolog.Logger
	now         clock
}

func NewPaymentService(
	repo domain.PaymentRepository,
	intents domain.IntentRepository,
	scheduler domain.Scheduler,
	publisher domain.EventPublisher,
	commissions config.CommissionsConfig,
	windowDays int,
	logger *zerolog.Logger,
) *PaymentService {
	return &PaymentService{
		repo:        repo,
		intents:     intents,
		scheduler:   scheduler,
		events:      publisher,
		commissions: commissions,
		windowDays:  windowDays,
		logger:      logger,
		now:         time.Now,
	}
}

// CreatePayment persists a commission payment. Zero or negative amounts are
// skipped and reported as not created. With a zero cancellation window the
// payment is eligible immediately; otherwise an eligibility job is scheduled.
func (s *PaymentService) CreatePayment(ctx context.Context, p *models.Payment) (bool, error) {
	p.Amount = p.Amount.Round(models.MoneyPlaces)
	if !p.Amount.IsPositive() {
		s.logger.Debug().
			Str("type", p.Type).
			Int64("intent_id", p.IntentID).
			Int64("booked_service_id", p.BookedServiceID).
			Msg("skipping zero amount payment")
		return false, nil
	}

	now := s.now().UTC()
	if s.windowDays <= 0 {
		p.Status = models.PaymentEligible
		p.EligibleAt = &now
	} else {
		at := now.Add(windowDuration(s.windowDays))
		p.Status = models.PaymentPending
		p.EligibleAt = &at
	}

	created, err := s.repo.CreatePayment(ctx, p)
	if err != nil {
		return false, fmt.Errorf("create %s payment: %w", p.Type, err)
	}
	if !created {
		return false, nil
	}

	if p.Status == models.PaymentPending {
		if _, err := s.scheduler.ScheduleOnce(ctx, JobPaymentEligible, ref(p.ID), *p.EligibleAt, nil); err != nil {
			s.logger.Error().Err(err).Int64("payment_id", p.ID).Msg("Failed to schedule payment eligibility")
		}
	}

	s.logger.Info().
		Int64("payment_id", p.ID).
		Str("type", p.Type).
		Int64("payee_id", p.PayeeID).
		Str("amount", p.Amount.StringFixed(models.MoneyPlaces)).
		Str("status", p.Status).
		Msg("payment created")
	return true, nil
}

// CreatePaymentGroup creates the team payment for each booked service plus
// the affiliate and sales payments for the intent. Existing payments are left
// untouched, so calling it again is a no-op.
func (s *PaymentService) CreatePaymentGroup(ctx context.Context, intent *models.BookingIntent, services []*models.BookedService) (int, error) {
	projectID := int64(0)
	if intent.ProjectID != nil {
		projectID = *intent.ProjectID
	}

	created := 0
	var errs []error
	add := func(p *models.Payment) {
		p.IntentID = intent.ID
		p.ClientID = intent.ClientID
		p.ProjectID = projectID
		ok, err := s.CreatePayment(ctx, p)
		if err != nil {
			errs = append(errs, err)
			return
		}
		if ok {
			created++
		}
	}

	for _, svc := range services {
		if svc.TeamID == 0 {
			s.logger.Warn().Int64("booked_service_id", svc.ID).Msg("booked service has no team member, skipping team payment")
			continue
		}
		add(&models.Payment{
			Type:            models.PaymentTypeTeam,
			PayeeID:         svc.TeamID,
			BookedServiceID: svc.ID,
			Amount:          svc.TeamFee,
			Memo:            fmt.Sprintf("Team payment for %s (booking #%d)", svc.Name, intent.ID),
		})
	}

	if intent.AffiliateID != nil {
		add(&models.Payment{
			Type:    models.PaymentTypeAffiliate,
			PayeeID: *intent.AffiliateID,
			Amount:  fees.Percent(intent.TotalFee, s.commissions.AffiliatePercentage),
			Memo:    fmt.Sprintf("Affiliate commission for booking #%d", intent.ID),
		})
	}

	if intent.SalesRepID != nil {
		add(&models.Payment{
			Type:    models.PaymentTypeSales,
			PayeeID: *intent.SalesRepID,
			Amount:  fees.Percent(intent.TotalFee, s.commissions.SalesPercentage),
			Memo:    fmt.Sprintf("Sales commission for booking #%d", intent.ID),
		})
	}

	return created, errors.Join(errs...)
}

// UpdateStatus moves a payment to a new status. Paying sets the paid date,
// deducts the amount from the intent's net fee and publishes payment_paid;
// leaving paid clears the date and restores the net fee.
func (s *PaymentService) UpdateStatus(ctx context.Context, id int64, status string) (*models.Payment, error) {
	switch status {
	case models.PaymentPending, models.PaymentEligible, models.PaymentPaid:
	default:
		return nil, invalid("status", "unknown payment status %q", status)
	}

	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == status {
		return p, nil
	}

	old := p.Status
	var paidDate *time.Time
	if status == models.PaymentPaid {
		now := s.now().UTC()
		paidDate = &now
	}

	changed, err := s.repo.UpdatePaymentStatus(ctx, id, old, status, paidDate)
	if err != nil {
		return nil, err
	}
	if !changed {
		s.logger.Info().Int64("payment_id", id).Str("status", status).Msg("payment changed concurrently, skipping")
		return s.repo.GetPayment(ctx, id)
	}
	p.Status = status
	p.PaidDate = paidDate

	switch {
	case status == models.PaymentPaid:
		s.adjustNetFee(ctx, p, p.Amount)
		if err := s.events.PublishJSON(events.EventPaymentPaid, events.NewPaymentEventPayload(p)); err != nil {
			s.logger.Error().Err(err).Int64("payment_id", id).Msg("Failed to publish payment_paid")
		}
	case old == models.PaymentPaid:
		s.adjustNetFee(ctx, p, p.Amount.Neg())
	}

	s.logger.Info().Int64("payment_id", id).Str("old_status", old).Str("new_status", status).Msg("payment status updated")
	return p, nil
}

func (s *PaymentService) adjustNetFee(ctx context.Context, p *models.Payment, delta decimal.Decimal) {
	net, err := s.intents.AdjustIntentNetFee(ctx, p.IntentID, delta)
	if err != nil {
		s.logger.Error().Err(err).Int64("payment_id", p.ID).Int64("intent_id", p.IntentID).Msg("Failed to adjust net fee")
		return
	}
	s.logger.Debug().Int64("intent_id", p.IntentID).Str("net_fee", net.StringFixed(models.MoneyPlaces)).Msg("net fee adjusted")
}

// HandleEligibilityJob is the scheduler handler for JobPaymentEligible.
func (s *PaymentService) HandleEligibilityJob(ctx context.Context, job models.Job) error {
	id, err := parseRef(job)
	if err != nil {
		return err
	}

	promoted, err := s.repo.PromotePaymentEligible(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		s.logger.Warn().Int64("payment_id", id).Msg("payment gone before eligibility")
		return nil
	}
	if err != nil {
		return err
	}
	if promoted {
		s.logger.Info().Int64("payment_id", id).Msg("payment eligible")
	}
	return nil
}

// CancelEligibility stops pending team payments of a canceled booked service
// from becoming eligible.
func (s *PaymentService) CancelEligibility(ctx context.Context, bookedServiceID int64) error {
	payments, err := s.repo.GetPaymentsByBookedService(ctx, bookedServiceID)
	if err != nil {
		return err
	}

	var errs []error
	for _, p := range payments {
		if p.Status != models.PaymentPending {
			continue
		}
		if err := s.scheduler.Cancel(ctx, JobPaymentEligible, ref(p.ID)); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.repo.UpdatePaymentEligibleAt(ctx, p.ID, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
