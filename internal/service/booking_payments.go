package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bookflow/internal/config"
	"bookflow/internal/domain"
	"bookflow/internal/fees"
	"bookflow/internal/models"
)

// Processor metadata keys attached to every capture.
const (
	MetaBookingPaymentID = "booking_payment_id"
	MetaIntentID         = "intent_id"
)

// BookingSucceeder runs the successful booking pipeline for an intent and
// reports whether this call performed the transition.
type BookingSucceeder interface {
	SuccessfulBooking(ctx context.Context, intentID int64) (bool, error)
}

// BookingPaymentService manages the client's deposit and final charges.
type BookingPaymentService struct {
	repo      domain.BookingPaymentRepository
	processor domain.PaymentProcessor
	deposits  config.DepositConfig
	succeeder BookingSucceeder
	logger    *zerolog.Logger
	now       clock
}

func NewBookingPaymentService(
	repo domain.BookingPaymentRepository,
	processor domain.PaymentProcessor,
	deposits config.DepositConfig,
	succeeder BookingSucceeder,
	logger *zerolog.Logger,
) *BookingPaymentService {
	return &BookingPaymentService{
		repo:      repo,
		processor: processor,
		deposits:  deposits,
		succeeder: succeeder,
		logger:    logger,
		now:       time.Now,
	}
}

// ComputeSplit returns the deposit and final amounts for a total fee. The
// deposit never exceeds the total and the final amount is never negative.
func ComputeSplit(total decimal.Decimal, cfg config.DepositConfig) (deposit, final decimal.Decimal) {
	total = total.Round(models.MoneyPlaces)
	if !total.IsPositive() {
		return decimal.Zero, decimal.Zero
	}

	deposit = decimal.Zero
	if cfg.Enabled {
		deposit = fees.Percent(total, cfg.Percentage).Add(cfg.Flat).Round(models.MoneyPlaces)
		deposit = decimal.Min(deposit, total)
		deposit = decimal.Max(deposit, decimal.Zero)
	}

	final = decimal.Max(total.Sub(deposit), decimal.Zero)
	return deposit, final
}

// CreateForIntent creates the deposit and final booking payments. The first
// one created is due immediately.
func (s *BookingPaymentService) CreateForIntent(ctx context.Context, intent *models.BookingIntent) ([]*models.BookingPayment, error) {
	deposit, final := ComputeSplit(intent.TotalFee, s.deposits)
	now := s.now().UTC()

	var out []*models.BookingPayment
	create := func(typ string, amount decimal.Decimal, due bool) error {
		bp := &models.BookingPayment{
			IntentID: intent.ID,
			ClientID: intent.ClientID,
			Type:     typ,
			Amount:   amount,
			Status:   models.BookingPaymentUnpaid,
			Due:      due,
		}
		if due {
			bp.DueAt = &now
		}
		if _, err := s.repo.CreateBookingPayment(ctx, bp); err != nil {
			return fmt.Errorf("create %s booking payment: %w", typ, err)
		}
		out = append(out, bp)
		return nil
	}

	hasDeposit := deposit.IsPositive()
	if hasDeposit {
		if err := create(models.BookingPaymentDeposit, deposit, true); err != nil {
			return out, err
		}
	}
	if final.IsPositive() {
		if err := create(models.BookingPaymentFinal, final, !hasDeposit); err != nil {
			return out, err
		}
	}

	s.logger.Info().
		Int64("intent_id", intent.ID).
		Str("deposit", deposit.StringFixed(models.MoneyPlaces)).
		Str("final", final.StringFixed(models.MoneyPlaces)).
		Msg("booking payments created")
	return out, nil
}

func (s *BookingPaymentService) Get(ctx context.Context, id int64) (*models.BookingPayment, error) {
	return s.repo.GetBookingPayment(ctx, id)
}

// Capture asks the processor for a transaction covering the payment and
// stores its id for the settlement guard.
func (s *BookingPaymentService) Capture(ctx context.Context, id int64) (*models.BookingPayment, error) {
	bp, err := s.repo.GetBookingPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if bp.Status == models.BookingPaymentPaid {
		return nil, fmt.Errorf("%w: booking payment %d already paid", ErrInvalidTransition, id)
	}
	if !bp.Due {
		return nil, fmt.Errorf("%w: booking payment %d is not due", ErrInvalidTransition, id)
	}

	tx, err := s.processor.Capture(ctx, bp.Amount, map[string]string{
		MetaBookingPaymentID: ref(bp.ID),
		MetaIntentID:         ref(bp.IntentID),
	})
	if err != nil {
		return nil, fmt.Errorf("capture booking payment %d: %w", id, err)
	}

	if err := s.repo.SetBookingPaymentTransaction(ctx, id, tx.ID); err != nil {
		return nil, err
	}
	s.logger.Info().Int64("booking_payment_id", id).Str("transaction_id", tx.ID).Msg("capture requested")
	return s.repo.GetBookingPayment(ctx, id)
}

// MarkDue flags a booking payment as due now.
func (s *BookingPaymentService) MarkDue(ctx context.Context, id int64) (*models.BookingPayment, error) {
	if err := s.repo.MarkBookingPaymentDue(ctx, id, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.repo.GetBookingPayment(ctx, id)
}

// SuccessfulBookingPayment applies a processor result. The update happens
// only when the transaction id equals the one stored at capture time; after
// settling, the intent's successful booking pipeline runs.
func (s *BookingPaymentService) SuccessfulBookingPayment(ctx context.Context, id int64, tx *models.Transaction) (*models.BookingPayment, error) {
	bp, err := s.repo.GetBookingPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	if bp.TransactionID == "" || bp.TransactionID != tx.ID {
		s.logger.Warn().
			Int64("booking_payment_id", id).
			Str("stored_transaction_id", bp.TransactionID).
			Str("transaction_id", tx.ID).
			Msg("transaction id mismatch, ignoring result")
		return nil, ErrTransactionMismatch
	}

	if tx.Status != models.TransactionSucceeded {
		s.logger.Info().Int64("booking_payment_id", id).Str("tx_status", tx.Status).Msg("transaction not succeeded yet")
		return bp, nil
	}

	changed, err := s.repo.SettleBookingPayment(ctx, id, tx.ID, tx, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Info().Int64("booking_payment_id", id).Int64("intent_id", bp.IntentID).Msg("booking payment settled")
		if s.succeeder != nil {
			if _, err := s.succeeder.SuccessfulBooking(ctx, bp.IntentID); err != nil {
				s.logger.Error().Err(err).Int64("intent_id", bp.IntentID).Msg("Failed to complete booking after payment")
			}
		}
	}

	return s.repo.GetBookingPayment(ctx, id)
}

// HandleWebhook re-reads the transaction from the processor and applies it
// to the booking payment named in its metadata.
func (s *BookingPaymentService) HandleWebhook(ctx context.Context, transactionID string) (*models.BookingPayment, error) {
	if transactionID == "" {
		return nil, invalid("transaction_id", "required")
	}

	tx, err := s.processor.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("fetch transaction %s: %w", transactionID, err)
	}

	raw, ok := tx.Metadata[MetaBookingPaymentID]
	if !ok {
		return nil, invalid("metadata", "transaction %s has no %s", transactionID, MetaBookingPaymentID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, invalid("metadata", "bad %s %q", MetaBookingPaymentID, raw)
	}

	return s.SuccessfulBookingPayment(ctx, id, tx)
}
