package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bookflow/internal/config"
	"bookflow/internal/events"
	"bookflow/internal/models"
)

func TestComputeSplit(t *testing.T) {
	d := decimal.RequireFromString
	tests := []struct {
		name    string
		total   string
		cfg     config.DepositConfig
		deposit string
		final   string
	}{
		{"disabled", "100", config.DepositConfig{Percentage: d("20"), Flat: d("10")}, "0.00", "100.00"},
		{"percentage and flat", "100", config.DepositConfig{Enabled: true, Percentage: d("20"), Flat: d("10")}, "30.00", "70.00"},
		{"capped at total", "25", config.DepositConfig{Enabled: true, Percentage: d("50"), Flat: d("40")}, "25.00", "0.00"},
		{"full percentage", "80", config.DepositConfig{Enabled: true, Percentage: d("100")}, "80.00", "0.00"},
		{"rounded", "33.33", config.DepositConfig{Enabled: true, Percentage: d("33.333")}, "11.11", "22.22"},
		{"zero total", "0", config.DepositConfig{Enabled: true, Flat: d("10")}, "0.00", "0.00"},
		{"negative total", "-10", config.DepositConfig{Enabled: true, Flat: d("10")}, "0.00", "0.00"},
		{"negative flat", "50", config.DepositConfig{Enabled: true, Flat: d("-80")}, "0.00", "50.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deposit, final := ComputeSplit(d(tt.total), tt.cfg)
			assert.Equal(t, tt.deposit, deposit.StringFixed(2))
			assert.Equal(t, tt.final, final.StringFixed(2))
		})
	}
}

func TestComputeSplit_Bounds(t *testing.T) {
	for total := 0; total <= 500; total += 7 {
		for pct := 0; pct <= 150; pct += 25 {
			for flat := 0; flat <= 200; flat += 50 {
				tf := decimal.New(int64(total), -1)
				cfg := config.DepositConfig{Enabled: true, Percentage: decimal.NewFromInt(int64(pct)), Flat: decimal.NewFromInt(int64(flat))}
				deposit, final := ComputeSplit(tf, cfg)

				assert.False(t, deposit.IsNegative())
				assert.True(t, deposit.LessThanOrEqual(tf))
				assert.False(t, final.IsNegative())
				assert.True(t, deposit.Add(final).Equal(tf.Round(2)))
			}
		}
	}
}

func TestCreateForIntent_NoDeposit(t *testing.T) {
	cfg := testConfig()
	cfg.Deposits.Enabled = false
	h := newHarness(t, cfg)

	intent, err := h.intents.Create(context.Background(), checkoutSubmission())
	require.NoError(t, err)

	bps, err := h.db.GetBookingPaymentsByIntent(context.Background(), intent.ID)
	require.NoError(t, err)
	require.Len(t, bps, 1)
	assert.Equal(t, models.BookingPaymentFinal, bps[0].Type)
	assert.True(t, bps[0].Due)
	assert.NotNil(t, bps[0].DueAt)
}

func depositOf(t *testing.T, h *harness, intentID int64) *models.BookingPayment {
	t.Helper()
	bps, err := h.db.GetBookingPaymentsByIntent(context.Background(), intentID)
	require.NoError(t, err)
	require.NotEmpty(t, bps)
	return bps[0]
}

func TestCaptureAndWebhook_CompletesBookingOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	intent, err := h.intents.Create(ctx, checkoutSubmission())
	require.NoError(t, err)
	deposit := depositOf(t, h, intent.ID)

	meta := map[string]string{MetaBookingPaymentID: ref(deposit.ID), MetaIntentID: ref(intent.ID)}
	h.processor.On("Capture", mock.Anything, mock.MatchedBy(func(a decimal.Decimal) bool {
		return a.Equal(decimal.NewFromInt(30))
	}), meta).Return(&models.Transaction{ID: "tx_1", Status: "pending", Metadata: meta}, nil).Once()

	captured, err := h.bookingPayments.Capture(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, "tx_1", captured.TransactionID)

	settled := &models.Transaction{
		ID:             "tx_1",
		Status:         models.TransactionSucceeded,
		AmountReceived: decimal.NewFromInt(30),
		PaymentMethod:  "card",
		ReceiptURL:     "https://pay.example.com/r/1",
		Metadata:       meta,
	}
	h.processor.On("GetTransaction", mock.Anything, "tx_1").Return(settled, nil)

	bp, err := h.bookingPayments.HandleWebhook(ctx, "tx_1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingPaymentPaid, bp.Status)
	assert.Equal(t, "30.00", bp.AmountReceived.StringFixed(2))
	assert.Equal(t, "card", bp.PaymentMethod)
	assert.Equal(t, "https://pay.example.com/r/1", bp.ReceiptRef)
	assert.NotNil(t, bp.PaidAt)

	stored, err := h.intents.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentSucceeded, stored.Status)
	assert.Equal(t, 1, h.pub.count(events.EventBookingSucceeded))

	// Redelivered webhook.
	_, err = h.bookingPayments.HandleWebhook(ctx, "tx_1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.pub.count(events.EventBookingSucceeded))
	assert.Equal(t, fanOutCounts{services: 1, payments: 1, briefs: 1}, countFanOut(t, h, intent.ID))

	h.processor.AssertExpectations(t)
}

func TestSuccessfulBookingPayment_TransactionMismatch(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	intent, err := h.intents.Create(ctx, checkoutSubmission())
	require.NoError(t, err)
	deposit := depositOf(t, h, intent.ID)

	tx := &models.Transaction{ID: "tx_other", Status: models.TransactionSucceeded}
	_, err = h.bookingPayments.SuccessfulBookingPayment(ctx, deposit.ID, tx)
	assert.ErrorIs(t, err, ErrTransactionMismatch)

	require.NoError(t, h.db.SetBookingPaymentTransaction(ctx, deposit.ID, "tx_1"))
	_, err = h.bookingPayments.SuccessfulBookingPayment(ctx, deposit.ID, tx)
	assert.ErrorIs(t, err, ErrTransactionMismatch)

	got, err := h.db.GetBookingPayment(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPaymentUnpaid, got.Status)

	stored, err := h.intents.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentIncomplete, stored.Status)
}

func TestSuccessfulBookingPayment_PendingTransaction(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	intent, err := h.intents.Create(ctx, checkoutSubmission())
	require.NoError(t, err)
	deposit := depositOf(t, h, intent.ID)
	require.NoError(t, h.db.SetBookingPaymentTransaction(ctx, deposit.ID, "tx_1"))

	got, err := h.bookingPayments.SuccessfulBookingPayment(ctx, deposit.ID, &models.Transaction{ID: "tx_1", Status: "processing"})
	require.NoError(t, err)
	assert.Equal(t, models.BookingPaymentUnpaid, got.Status)
	assert.Zero(t, h.pub.count(events.EventBookingSucceeded))
}

func TestCapture_RequiresDue(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	intent, err := h.intents.Create(ctx, checkoutSubmission())
	require.NoError(t, err)
	bps, err := h.db.GetBookingPaymentsByIntent(ctx, intent.ID)
	require.NoError(t, err)
	final := bps[1]

	_, err = h.bookingPayments.Capture(ctx, final.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	marked, err := h.bookingPayments.MarkDue(ctx, final.ID)
	require.NoError(t, err)
	assert.True(t, marked.Due)
	assert.NotNil(t, marked.DueAt)

	h.processor.On("Capture", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("gateway down")).Once()
	_, err = h.bookingPayments.Capture(ctx, final.ID)
	assert.ErrorContains(t, err, "gateway down")
}

func TestHandleWebhook_BadInput(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.bookingPayments.HandleWebhook(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)

	h.processor.On("GetTransaction", mock.Anything, "tx_nometa").
		Return(&models.Transaction{ID: "tx_nometa", Status: models.TransactionSucceeded}, nil)
	_, err = h.bookingPayments.HandleWebhook(ctx, "tx_nometa")
	assert.ErrorIs(t, err, ErrValidation)

	h.processor.On("GetTransaction", mock.Anything, "tx_missing").Return(nil, errors.New("not found"))
	_, err = h.bookingPayments.HandleWebhook(ctx, "tx_missing")
	assert.Error(t, err)
}
