package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookflow/internal/database"
	"bookflow/internal/events"
	"bookflow/internal/fees"
	"bookflow/internal/models"
)

type fanOutCounts struct {
	services int
	payments int
	briefs   int
}

func countFanOut(t *testing.T, h *harness, intentID int64) fanOutCounts {
	t.Helper()
	ctx := context.Background()

	services, err := h.db.GetBookedServicesByIntent(ctx, intentID)
	require.NoError(t, err)
	payments, err := h.db.GetPaymentsByIntent(ctx, intentID)
	require.NoError(t, err)

	intent, err := h.db.GetIntent(ctx, intentID)
	require.NoError(t, err)
	briefs := 0
	if intent.ProjectID != nil {
		b, err := h.db.GetBriefsByProject(ctx, *intent.ProjectID)
		require.NoError(t, err)
		briefs = len(b)
	}
	return fanOutCounts{services: len(services), payments: len(payments), briefs: briefs}
}

func createPending(t *testing.T, h *harness) *models.BookingIntent {
	t.Helper()
	sub := paidSubmission()
	sub.PreviouslyPaid = false
	intent, err := h.intents.Create(context.Background(), sub)
	require.NoError(t, err)
	require.Equal(t, models.IntentIncomplete, intent.Status)
	return intent
}

func TestSuccessfulBooking_Idempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	intent := createPending(t, h)

	ok, err := h.orchestrator.SuccessfulBooking(ctx, intent.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	first := countFanOut(t, h, intent.ID)
	assert.Equal(t, fanOutCounts{services: 2, payments: 4, briefs: 2}, first)

	ok, err = h.orchestrator.SuccessfulBooking(ctx, intent.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, first, countFanOut(t, h, intent.ID))
	assert.Equal(t, 1, h.pub.count(events.EventBookingSucceeded))

	require.NoError(t, h.orchestrator.Resume(ctx, intent.ID))
	assert.Equal(t, first, countFanOut(t, h, intent.ID))
	assert.Equal(t, 1, h.pub.count(events.EventBookingSucceeded))
	assert.Len(t, h.sched.scheduledOf(JobPaymentEligible), 4)
}

func TestSuccessfulBooking_ConcurrentCallsHaveOneWinner(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	intent := createPending(t, h)

	const callers = 6
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := h.orchestrator.SuccessfulBooking(ctx, intent.ID)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, h.pub.count(events.EventBookingSucceeded))
	assert.Equal(t, fanOutCounts{services: 2, payments: 4, briefs: 2}, countFanOut(t, h, intent.ID))
}

func TestSuccessfulBooking_UnknownIntent(t *testing.T) {
	h := newHarness(t, testConfig())

	ok, err := h.orchestrator.SuccessfulBooking(context.Background(), 404)
	assert.False(t, ok)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestResume_RequiresSucceeded(t *testing.T) {
	h := newHarness(t, testConfig())
	intent := createPending(t, h)

	err := h.orchestrator.Resume(context.Background(), intent.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestResume_CompletesPartialFanOut(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	intent := createPending(t, h)

	// Simulate a crash right after the transition.
	changed, err := h.db.MarkIntentSucceeded(ctx, intent.ID)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, fanOutCounts{}, countFanOut(t, h, intent.ID))

	require.NoError(t, h.orchestrator.Resume(ctx, intent.ID))
	assert.Equal(t, fanOutCounts{services: 2, payments: 4, briefs: 2}, countFanOut(t, h, intent.ID))
	assert.Zero(t, h.pub.count(events.EventBookingSucceeded))
}

func TestFanOut_SkipsWhileLocked(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	intent := createPending(t, h)

	_, err := h.db.MarkIntentSucceeded(ctx, intent.ID)
	require.NoError(t, err)

	locked, err := h.orchestrator.locks.TryLock(ctx, "fanout:"+ref(intent.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	require.NoError(t, h.orchestrator.Resume(ctx, intent.ID))
	assert.Equal(t, fanOutCounts{}, countFanOut(t, h, intent.ID))
}

func TestFanOut_RegisteredClientReusesProject(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	first, err := h.intents.Create(ctx, paidSubmission())
	require.NoError(t, err)
	second, err := h.intents.Create(ctx, paidSubmission())
	require.NoError(t, err)

	require.NotNil(t, first.ProjectID)
	require.NotNil(t, second.ProjectID)
	assert.Equal(t, *first.ProjectID, *second.ProjectID)

	briefs, err := h.db.GetBriefsByProject(ctx, *first.ProjectID)
	require.NoError(t, err)
	assert.Len(t, briefs, 2)
}

func TestFanOut_GuestsGetSeparateProjects(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	sub := Submission{
		ClientID:       models.GuestClient,
		ClientEmail:    "guest@example.com",
		Items:          []fees.Selection{{ServiceID: 1, TeamID: 5}},
		PreviouslyPaid: true,
	}
	first, err := h.intents.Create(ctx, sub)
	require.NoError(t, err)
	second, err := h.intents.Create(ctx, sub)
	require.NoError(t, err)

	require.NotNil(t, first.ProjectID)
	require.NotNil(t, second.ProjectID)
	assert.NotEqual(t, *first.ProjectID, *second.ProjectID)
}

type stubFiles struct {
	calls [][]string
}

func (s *stubFiles) Promote(_ context.Context, refs []string) ([]string, error) {
	s.calls = append(s.calls, refs)
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = "permanent/" + r
	}
	return out, nil
}

func TestFanOut_PromotesFiles(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	files := &stubFiles{}
	h.orchestrator.files = files

	sub := paidSubmission()
	sub.Items[0].Files = []string{"a.pdf", "b.docx"}
	intent, err := h.intents.Create(ctx, sub)
	require.NoError(t, err)

	require.Len(t, files.calls, 1)
	assert.Equal(t, []string{"permanent/a.pdf", "permanent/b.docx"}, intent.LineItems[0].Files)
	assert.Empty(t, intent.LineItems[1].Files)

	services, err := h.db.GetBookedServicesByIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"permanent/a.pdf", "permanent/b.docx"}, services[0].Files)
}
