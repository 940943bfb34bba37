// Package service holds the booking workflow: intents, the successful
// booking fan-out, booked services, commission payments, client booking
// payments and the abandoned booking watchdog.
package service

import (
	"strconv"
	"time"

	"bookflow/internal/domain"
	"bookflow/internal/models"
)

// Scheduled job types.
const (
	JobAbandonedCheck  = "abandoned_check"
	JobPaymentEligible = "payment_eligible"
)

// Stores bundles the repositories shared by the services. *database.DB
// satisfies all of them.
type Stores struct {
	Intents         domain.IntentRepository
	BookedServices  domain.BookedServiceRepository
	Payments        domain.PaymentRepository
	BookingPayments domain.BookingPaymentRepository
	Projects        domain.ProjectRepository
}

// ServiceCatalog resolves service definitions by id.
type ServiceCatalog interface {
	Service(id int64) (models.ServiceDefinition, bool)
}

type clock func() time.Time

func ref(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseRef(job models.Job) (int64, error) {
	id, err := strconv.ParseInt(job.Ref, 10, 64)
	if err != nil {
		return 0, invalid("ref", "job %d has non-numeric ref %q", job.ID, job.Ref)
	}
	return id, nil
}

func windowDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
