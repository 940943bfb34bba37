package domain

import (
	"context"
	"time"

	"bookflow/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
)

type IntentRepository interface {
	CreateIntent(ctx context.Context, intent *models.BookingIntent) error
	GetIntent(ctx context.Context, id int64) (*models.BookingIntent, error)
	// MarkIntentSucceeded flips the status to succeeded and reports whether
	// this call performed the transition.
	MarkIntentSucceeded(ctx context.Context, id int64) (bool, error)
	UpdateIntentProject(ctx context.Context, id int64, projectID int64) error
	UpdateIntentLineItems(ctx context.Context, id int64, items []models.LineItem) error
	// AdjustIntentNetFee atomically sets net_fee = coalesce(net_fee, total_fee) - delta.
	AdjustIntentNetFee(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error)
	UpdateIntentCheckoutLink(ctx context.Context, id int64, link string) error
	DeleteIntentCascade(ctx context.Context, id int64) error
}

type BookedServiceRepository interface {
	CreateBookedService(ctx context.Context, svc *models.BookedService) (bool, error)
	GetBookedService(ctx context.Context, id int64) (*models.BookedService, error)
	GetBookedServicesByIntent(ctx context.Context, intentID int64) ([]*models.BookedService, error)
	UpdateBookedServiceStatus(ctx context.Context, id int64, status string, reason string) error
	UpdateBookedServiceTeam(ctx context.Context, id int64, teamID int64) error
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, p *models.Payment) (bool, error)
	GetPayment(ctx context.Context, id int64) (*models.Payment, error)
	GetPaymentsByIntent(ctx context.Context, intentID int64) ([]*models.Payment, error)
	GetPaymentsByBookedService(ctx context.Context, bookedServiceID int64) ([]*models.Payment, error)
	GetPaymentsByStatus(ctx context.Context, status string) ([]*models.Payment, error)
	// UpdatePaymentStatus is a compare-and-set on the current status.
	UpdatePaymentStatus(ctx context.Context, id int64, fromStatus, status string, paidDate *time.Time) (bool, error)
	// PromotePaymentEligible moves a pending payment to eligible and reports
	// whether it did.
	PromotePaymentEligible(ctx context.Context, id int64) (bool, error)
	UpdatePaymentEligibleAt(ctx context.Context, id int64, at *time.Time) error
}

type BookingPaymentRepository interface {
	CreateBookingPayment(ctx context.Context, bp *models.BookingPayment) (bool, error)
	GetBookingPayment(ctx context.Context, id int64) (*models.BookingPayment, error)
	GetBookingPaymentsByIntent(ctx context.Context, intentID int64) ([]*models.BookingPayment, error)
	SetBookingPaymentTransaction(ctx context.Context, id int64, transactionID string) error
	MarkBookingPaymentDue(ctx context.Context, id int64, at time.Time) error
	// SettleBookingPayment applies the processor result only when the stored
	// transaction id equals transactionID. Reports whether a row changed.
	SettleBookingPayment(ctx context.Context, id int64, transactionID string, tx *models.Transaction, paidAt time.Time) (bool, error)
}

type ProjectRepository interface {
	FindProjectByClient(ctx context.Context, clientID string) (*models.Project, error)
	CreateProject(ctx context.Context, p *models.Project) error
	CreateBrief(ctx context.Context, b *models.Brief) (bool, error)
	GetBriefsByProject(ctx context.Context, projectID int64) ([]*models.Brief, error)
}

type JobRepository interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	GetDueJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error)
	ClaimJob(ctx context.Context, id int64) (bool, error)
	UpdateJobStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	CancelJobs(ctx context.Context, jobType, ref string) ([]int64, error)
}

// Scheduler is the delayed execution mechanism. Jobs fire at or after runAt,
// at most once, and may be cancelled by type and ref before they fire.
type Scheduler interface {
	ScheduleOnce(ctx context.Context, jobType, ref string, runAt time.Time, payload interface{}) (int64, error)
	Cancel(ctx context.Context, jobType, ref string) error
}

type LockRepository interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// PaymentProcessor is the opaque payment gateway.
type PaymentProcessor interface {
	Capture(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (*models.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
}

// FileStore implements the upload-then-promote lifecycle.
type FileStore interface {
	Promote(ctx context.Context, refs []string) ([]string, error)
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
