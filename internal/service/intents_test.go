package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookflow/internal/database"
	"bookflow/internal/events"
	"bookflow/internal/fees"
	"bookflow/internal/models"
)

func TestCreateIntent_Validation(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	tests := []struct {
		name  string
		edit  func(s *Submission)
		field string
	}{
		{"missing client", func(s *Submission) { s.ClientID = " " }, "client_id"},
		{"missing email", func(s *Submission) { s.ClientEmail = "" }, "client_email"},
		{"bad email", func(s *Submission) { s.ClientEmail = "not-an-email" }, "client_email"},
		{"no items", func(s *Submission) { s.Items = nil }, "items"},
		{"unknown service", func(s *Submission) { s.Items[0].ServiceID = 99 }, "items[0].service_id"},
		{"per unit without units", func(s *Submission) {
			s.Items = []fees.Selection{{ServiceID: 2, TeamID: 7}}
		}, "items[0].unit_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := checkoutSubmission()
			tt.edit(&sub)

			intent, err := h.intents.Create(ctx, sub)
			assert.Nil(t, intent)
			require.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	var count int
	require.NoError(t, h.db.QueryRow(`SELECT COUNT(*) FROM booking_intents`).Scan(&count))
	assert.Zero(t, count)
	assert.Empty(t, h.sched.scheduled)
}

func TestCreateIntent_AwaitingPayment(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	before := time.Now().UTC()

	intent, err := h.intents.Create(ctx, checkoutSubmission())
	require.NoError(t, err)

	assert.Equal(t, models.IntentIncomplete, intent.Status)
	assert.Equal(t, "100.00", intent.TotalFee.StringFixed(2))
	assert.Equal(t, "2024-01", intent.TermsVersion)
	assert.NotEmpty(t, intent.TermsDocRef)
	assert.Equal(t, "https://book.example.com/checkout/"+ref(intent.ID), intent.CheckoutLink)
	require.Len(t, intent.LineItems, 1)
	assert.Equal(t, "50.00", intent.LineItems[0].TeamFee)

	checks := h.sched.scheduledOf(JobAbandonedCheck)
	require.Len(t, checks, 1)
	assert.Equal(t, ref(intent.ID), checks[0].ref)
	assert.WithinDuration(t, before.Add(10*time.Minute), checks[0].runAt, 5*time.Second)

	bps, err := h.db.GetBookingPaymentsByIntent(ctx, intent.ID)
	require.NoError(t, err)
	require.Len(t, bps, 2)
	assert.Equal(t, models.BookingPaymentDeposit, bps[0].Type)
	assert.Equal(t, "30.00", bps[0].Amount.StringFixed(2))
	assert.True(t, bps[0].Due)
	assert.Equal(t, models.BookingPaymentFinal, bps[1].Type)
	assert.Equal(t, "70.00", bps[1].Amount.StringFixed(2))
	assert.False(t, bps[1].Due)

	services, err := h.db.GetBookedServicesByIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Empty(t, services)
	assert.Zero(t, h.pub.count(events.EventBookingSucceeded))
}

func TestCreateIntent_PreviouslyPaidRunsFanOut(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	intent, err := h.intents.Create(ctx, paidSubmission())
	require.NoError(t, err)

	assert.Equal(t, models.IntentSucceeded, intent.Status)
	assert.Equal(t, "270.00", intent.TotalFee.StringFixed(2))
	require.NotNil(t, intent.ProjectID)
	assert.True(t, h.sched.wasCanceled(JobAbandonedCheck, ref(intent.ID)))

	d, err := h.intents.Details(ctx, intent.ID)
	require.NoError(t, err)
	assert.Empty(t, d.BookingPayments)

	require.Len(t, d.BookedServices, 2)
	assert.Equal(t, "Audit", d.BookedServices[0].Name)
	assert.Equal(t, "50.00", d.BookedServices[0].TeamFee.StringFixed(2))
	assert.Equal(t, "Editing - Rush - Extra review", d.BookedServices[1].Name)
	assert.Equal(t, "170.00", d.BookedServices[1].ClientFee.StringFixed(2))
	assert.Equal(t, "102.00", d.BookedServices[1].TeamFee.StringFixed(2))
	assert.Equal(t, *intent.ProjectID, d.BookedServices[0].ProjectID)

	team := paymentsByType(d.Payments, models.PaymentTypeTeam)
	require.Len(t, team, 2)
	assert.Equal(t, "50.00", team[0].Amount.StringFixed(2))
	assert.Equal(t, "102.00", team[1].Amount.StringFixed(2))
	for _, p := range d.Payments {
		assert.Equal(t, models.PaymentPending, p.Status)
		require.NotNil(t, p.EligibleAt)
	}

	aff := paymentsByType(d.Payments, models.PaymentTypeAffiliate)
	require.Len(t, aff, 1)
	assert.Equal(t, int64(9), aff[0].PayeeID)
	assert.Equal(t, "27.00", aff[0].Amount.StringFixed(2))

	sales := paymentsByType(d.Payments, models.PaymentTypeSales)
	require.Len(t, sales, 1)
	assert.Equal(t, "13.50", sales[0].Amount.StringFixed(2))

	assert.Len(t, h.sched.scheduledOf(JobPaymentEligible), 4)

	briefs, err := h.db.GetBriefsByProject(ctx, *intent.ProjectID)
	require.NoError(t, err)
	assert.Len(t, briefs, 2)

	require.Equal(t, 1, h.pub.count(events.EventBookingSucceeded))
	payload, ok := h.pub.last(events.EventBookingSucceeded).(events.IntentEventPayload)
	require.True(t, ok)
	assert.Equal(t, intent.ID, payload.IntentID)
	assert.Equal(t, []int64{d.BookedServices[0].ID, d.BookedServices[1].ID}, payload.BookedServiceIDs)
}

func TestCreateIntent_FreeBookingSucceeds(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	intent, err := h.intents.Create(ctx, Submission{
		ClientID:    models.GuestClient,
		ClientEmail: "guest@example.com",
		Items:       []fees.Selection{{ServiceID: 3, TeamID: 5}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.IntentSucceeded, intent.Status)

	payments, err := h.db.GetPaymentsByIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestCreateIntent_SkipPayment(t *testing.T) {
	cfg := testConfig()
	cfg.Booking.SkipPayment = true
	h := newHarness(t, cfg)

	intent, err := h.intents.Create(context.Background(), checkoutSubmission())
	require.NoError(t, err)
	assert.Equal(t, models.IntentSucceeded, intent.Status)
}

func TestIntentUpdateStatus(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	intent, err := h.intents.Create(ctx, checkoutSubmission())
	require.NoError(t, err)

	got, err := h.intents.UpdateStatus(ctx, intent.ID, models.IntentIncomplete)
	require.NoError(t, err)
	assert.Equal(t, models.IntentIncomplete, got.Status)

	_, err = h.intents.UpdateStatus(ctx, intent.ID, "archived")
	assert.ErrorIs(t, err, ErrValidation)

	got, err = h.intents.UpdateStatus(ctx, intent.ID, models.IntentSucceeded)
	require.NoError(t, err)
	assert.Equal(t, models.IntentSucceeded, got.Status)

	_, err = h.intents.UpdateStatus(ctx, intent.ID, models.IntentSucceeded)
	require.NoError(t, err)
	assert.Equal(t, 1, h.pub.count(events.EventBookingSucceeded))

	_, err = h.intents.UpdateStatus(ctx, intent.ID, models.IntentIncomplete)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.intents.UpdateStatus(ctx, 999, models.IntentSucceeded)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestIntentUpdateNetFee(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	intent, err := h.intents.Create(ctx, checkoutSubmission())
	require.NoError(t, err)

	net, err := h.intents.UpdateNetFee(ctx, intent.ID, decimal.RequireFromString("12.50"))
	require.NoError(t, err)
	assert.Equal(t, "87.50", net.StringFixed(2))

	net, err = h.intents.UpdateNetFee(ctx, intent.ID, decimal.RequireFromString("7.50"))
	require.NoError(t, err)
	assert.Equal(t, "80.00", net.StringFixed(2))
}

func TestIntentDelete(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	intent, err := h.intents.Create(ctx, paidSubmission())
	require.NoError(t, err)
	payments, err := h.db.GetPaymentsByIntent(ctx, intent.ID)
	require.NoError(t, err)
	require.NotEmpty(t, payments)

	require.NoError(t, h.intents.Delete(ctx, intent.ID))

	_, err = h.intents.Get(ctx, intent.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	services, err := h.db.GetBookedServicesByIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Empty(t, services)

	left, err := h.db.GetPaymentsByIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	assert.True(t, h.sched.wasCanceled(JobAbandonedCheck, ref(intent.ID)))
	for _, p := range payments {
		assert.True(t, h.sched.wasCanceled(JobPaymentEligible, ref(p.ID)))
	}

	assert.ErrorIs(t, h.intents.Delete(ctx, intent.ID), database.ErrNotFound)
}
