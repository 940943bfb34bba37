package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookflow/internal/database"
	"bookflow/internal/events"
	"bookflow/internal/models"
)

func bookedServices(t *testing.T, h *harness) []*models.BookedService {
	t.Helper()
	intent, err := h.intents.Create(context.Background(), paidSubmission())
	require.NoError(t, err)
	services, err := h.db.GetBookedServicesByIntent(context.Background(), intent.ID)
	require.NoError(t, err)
	require.Len(t, services, 2)
	return services
}

func TestBookedServiceUpdateStatus_OnlyChangesPublish(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	svc := bookedServices(t, h)[0]

	got, err := h.services.UpdateStatus(ctx, svc.ID, models.ServicePending)
	require.NoError(t, err)
	assert.Equal(t, models.ServicePending, got.Status)
	assert.Zero(t, h.pub.count(events.EventServiceStatusChanged))

	got, err = h.services.UpdateStatus(ctx, svc.ID, models.ServiceInProgress)
	require.NoError(t, err)
	assert.Equal(t, models.ServiceInProgress, got.Status)
	require.Equal(t, 1, h.pub.count(events.EventServiceStatusChanged))

	payload := serviceEvent(t, h.pub.last(events.EventServiceStatusChanged))
	assert.Equal(t, svc.ID, payload.BookedServiceID)
	assert.Equal(t, models.ServicePending, payload.OldStatus)
	assert.Equal(t, models.ServiceInProgress, payload.NewStatus)

	got, err = h.services.UpdateStatus(ctx, svc.ID, models.ServiceComplete)
	require.NoError(t, err)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 2, h.pub.count(events.EventServiceStatusChanged))

	_, err = h.services.UpdateStatus(ctx, svc.ID, models.ServiceComplete)
	require.NoError(t, err)
	assert.Equal(t, 2, h.pub.count(events.EventServiceStatusChanged))
}

func TestBookedServiceUpdateStatus_Invalid(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.services.UpdateStatus(ctx, 1, "archived")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.services.UpdateStatus(ctx, 404, models.ServiceComplete)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestBookedServiceCancel_StopsPaymentEligibility(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	svc := bookedServices(t, h)[1]

	_, err := h.services.UpdateStatus(ctx, svc.ID, models.ServiceCanceled)
	require.NoError(t, err)

	payments, err := h.db.GetPaymentsByBookedService(ctx, svc.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.True(t, h.sched.wasCanceled(JobPaymentEligible, ref(payments[0].ID)))
}

func TestRequestCancellation_Window(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	services := bookedServices(t, h)
	window := 7 * 24 * time.Hour

	inside := services[0]
	h.services.now = func() time.Time { return inside.CreatedAt.Add(window - time.Second) }
	got, err := h.services.RequestCancellation(ctx, inside.ID, "  changed my mind ")
	require.NoError(t, err)
	assert.Equal(t, models.ServiceCancellationRequested, got.Status)
	assert.Equal(t, "changed my mind", got.CancellationReason)

	assert.Equal(t, 1, h.pub.count(events.EventServiceStatusChanged))
	require.Equal(t, 1, h.pub.count(events.EventCancellationRequested))
	payload := serviceEvent(t, h.pub.last(events.EventCancellationRequested))
	assert.Equal(t, "changed my mind", payload.Reason)
	assert.Equal(t, models.ServicePending, payload.OldStatus)

	outside := services[1]
	h.services.now = func() time.Time { return outside.CreatedAt.Add(window + time.Second) }
	_, err = h.services.RequestCancellation(ctx, outside.ID, "too late")
	assert.ErrorIs(t, err, ErrCancellationUnavailable)

	stored, err := h.db.GetBookedService(ctx, outside.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ServicePending, stored.Status)
	assert.Equal(t, 1, h.pub.count(events.EventCancellationRequested))
}

func TestRequestCancellation_ClosedStatuses(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	svc := bookedServices(t, h)[0]
	h.services.now = func() time.Time { return svc.CreatedAt.Add(time.Hour) }

	for _, status := range []string{models.ServiceCancellationRequested, models.ServiceComplete, models.ServiceCanceled} {
		require.NoError(t, h.db.UpdateBookedServiceStatus(ctx, svc.ID, status, ""))
		_, err := h.services.RequestCancellation(ctx, svc.ID, "")
		assert.ErrorIs(t, err, ErrCancellationUnavailable, status)
	}
}

func TestCanRequestCancellation(t *testing.T) {
	h := newHarness(t, testConfig())
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := &models.BookedService{Status: models.ServiceInProgress, CreatedAt: created}

	assert.True(t, h.services.CanRequestCancellation(svc, created))
	assert.True(t, h.services.CanRequestCancellation(svc, created.AddDate(0, 0, 7).Add(-time.Second)))
	assert.False(t, h.services.CanRequestCancellation(svc, created.AddDate(0, 0, 7)))
	assert.False(t, h.services.CanRequestCancellation(svc, created.AddDate(0, 0, 7).Add(time.Second)))

	svc.Status = models.ServiceComplete
	assert.False(t, h.services.CanRequestCancellation(svc, created))
}

func TestUpdateTeamID_KeepsFees(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	svc := bookedServices(t, h)[0]

	got, err := h.services.UpdateTeamID(ctx, svc.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.TeamID)
	assert.Equal(t, "50.00", got.TeamFee.StringFixed(2))
	assert.Equal(t, "100.00", got.ClientFee.StringFixed(2))

	_, err = h.services.UpdateTeamID(ctx, svc.ID, 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.services.UpdateTeamID(ctx, 404, 7)
	assert.ErrorIs(t, err, database.ErrNotFound)
}
