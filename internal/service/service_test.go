package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bookflow/internal/config"
	"bookflow/internal/database"
	"bookflow/internal/events"
	"bookflow/internal/fees"
	"bookflow/internal/models"
	"bookflow/internal/repository"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(eventType string, payload interface{}) error {
	args := m.Called(eventType, payload)
	return args.Error(0)
}

func (m *mockPublisher) count(eventType string) int {
	n := 0
	for _, c := range m.Calls {
		if c.Method == "PublishJSON" && c.Arguments.String(0) == eventType {
			n++
		}
	}
	return n
}

func (m *mockPublisher) last(eventType string) interface{} {
	var payload interface{}
	for _, c := range m.Calls {
		if c.Method == "PublishJSON" && c.Arguments.String(0) == eventType {
			payload = c.Arguments.Get(1)
		}
	}
	return payload
}

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) Capture(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (*models.Transaction, error) {
	args := m.Called(ctx, amount, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *mockProcessor) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

type scheduledJob struct {
	jobType string
	ref     string
	runAt   time.Time
}

type fakeScheduler struct {
	mu        sync.Mutex
	nextID    int64
	scheduled []scheduledJob
	canceled  []scheduledJob
}

func (f *fakeScheduler) ScheduleOnce(_ context.Context, jobType, ref string, runAt time.Time, _ interface{}) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.scheduled = append(f.scheduled, scheduledJob{jobType: jobType, ref: ref, runAt: runAt})
	return f.nextID, nil
}

func (f *fakeScheduler) Cancel(_ context.Context, jobType, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, scheduledJob{jobType: jobType, ref: ref})
	return nil
}

func (f *fakeScheduler) scheduledOf(jobType string) []scheduledJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []scheduledJob
	for _, j := range f.scheduled {
		if j.jobType == jobType {
			out = append(out, j)
		}
	}
	return out
}

func (f *fakeScheduler) wasCanceled(jobType, ref string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.canceled {
		if j.jobType == jobType && j.ref == ref {
			return true
		}
	}
	return false
}

func testCatalog() []models.ServiceDefinition {
	return []models.ServiceDefinition{
		{ID: 1, Name: "Audit", RateType: models.RateFlat, RateValue: decimal.RequireFromString("100.00"), BriefType: "audit"},
		{
			ID: 2, Name: "Editing", RateType: "per-word", RateValue: decimal.RequireFromString("0.10"), BriefType: "editing",
			Adjustments: []models.AdjustmentOption{
				{ID: "rush", Operator: models.OpMultiply, Magnitude: decimal.RequireFromString("1.5"), Label: "Rush"},
				{ID: "extra", Operator: models.OpAdd, Magnitude: decimal.RequireFromString("20"), Label: "Extra review"},
			},
		},
		{ID: 3, Name: "Intro call", RateType: models.RateFlat, RateValue: decimal.Zero},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{BaseURL: "https://book.example.com/"},
		Booking: config.BookingConfig{
			AbandonedTimeout:       10 * time.Minute,
			CancellationWindowDays: 7,
			TermsVersion:           "2024-01",
		},
		Commissions: config.CommissionsConfig{
			TeamPercentage:      decimal.NewFromInt(50),
			AffiliatePercentage: decimal.NewFromInt(10),
			SalesPercentage:     decimal.NewFromInt(5),
			Team:                []models.TeamMember{{ID: 7, Name: "Senior", Percentage: decimal.NewFromInt(60)}},
		},
		Deposits: config.DepositConfig{
			Enabled:    true,
			Percentage: decimal.NewFromInt(20),
			Flat:       decimal.NewFromInt(10),
		},
	}
}

type harness struct {
	db              *database.DB
	cfg             *config.Config
	pub             *mockPublisher
	processor       *mockProcessor
	sched           *fakeScheduler
	calc            *fees.Calculator
	projects        *ProjectService
	payments        *PaymentService
	services        *BookedServiceService
	orchestrator    *Orchestrator
	bookingPayments *BookingPaymentService
	intents         *IntentService
	watchdog        *Watchdog
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "bookflow.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pub := new(mockPublisher)
	pub.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)

	h := &harness{
		db:        db,
		cfg:       cfg,
		pub:       pub,
		processor: new(mockProcessor),
		sched:     &fakeScheduler{},
		calc:      fees.NewCalculator(testCatalog(), &logger),
	}

	stores := Stores{Intents: db, BookedServices: db, Payments: db, BookingPayments: db, Projects: db}
	window := cfg.Booking.CancellationWindowDays

	h.projects = NewProjectService(db, h.calc, &logger)
	h.payments = NewPaymentService(db, db, h.sched, pub, cfg.Commissions, window, &logger)
	h.services = NewBookedServiceService(db, h.payments, pub, window, &logger)
	h.orchestrator = NewOrchestrator(stores, h.payments, h.projects, nil, h.sched, repository.NewMemoryLockRepository(), pub, &logger)
	h.bookingPayments = NewBookingPaymentService(db, h.processor, cfg.Deposits, h.orchestrator, &logger)
	h.intents = NewIntentService(stores, h.calc, h.orchestrator, h.bookingPayments, h.sched, cfg, &logger)
	h.watchdog = NewWatchdog(db, pub, &logger)
	return h
}

func int64p(v int64) *int64 { return &v }

// paidSubmission books an audit for team member 5 and an edited 1000 words
// with both adjustments for team member 7, already paid.
func paidSubmission() Submission {
	return Submission{
		ClientID:    "42",
		ClientEmail: "client@example.com",
		AffiliateID: int64p(9),
		SalesRepID:  int64p(11),
		Items: []fees.Selection{
			{ServiceID: 1, TeamID: 5},
			{ServiceID: 2, TeamID: 7, UnitCount: decimal.NewFromInt(1000), AdjustmentIDs: []string{"extra", "rush"}},
		},
		PreviouslyPaid: true,
	}
}

func checkoutSubmission() Submission {
	return Submission{
		ClientID:    "42",
		ClientEmail: "client@example.com",
		Items:       []fees.Selection{{ServiceID: 1, TeamID: 5}},
	}
}

func paymentsByType(payments []*models.Payment, typ string) []*models.Payment {
	var out []*models.Payment
	for _, p := range payments {
		if p.Type == typ {
			out = append(out, p)
		}
	}
	return out
}

func serviceEvent(t *testing.T, payload interface{}) events.ServiceEventPayload {
	t.Helper()
	p, ok := payload.(events.ServiceEventPayload)
	require.True(t, ok)
	return p
}
