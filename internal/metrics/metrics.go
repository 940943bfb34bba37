package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bookflow"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	intentsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_created_total",
			Help:      "Booking intents accepted.",
		},
	)

	bookingsSucceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_succeeded_total",
			Help:      "Intents that transitioned to succeeded.",
		},
	)

	fanoutFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_step_failures_total",
			Help:      "Successful booking fan-out steps that failed and were skipped.",
		},
		[]string{"step"},
	)

	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Scheduled jobs by type and result.",
		},
		[]string{"type", "result"},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events published on the bus.",
		},
		[]string{"event"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			intentsCreated,
			bookingsSucceeded,
			fanoutFailures,
			jobsProcessed,
			eventsPublished,
		)
	})
}

func IncHTTP(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}

func IncIntentCreated() {
	intentsCreated.Inc()
}

func IncBookingSucceeded() {
	bookingsSucceeded.Inc()
}

func IncFanoutFailure(step string) {
	fanoutFailures.WithLabelValues(step).Inc()
}

func IncJob(jobType, result string) {
	jobsProcessed.WithLabelValues(jobType, result).Inc()
}

func IncEvent(eventType string) {
	eventsPublished.WithLabelValues(eventType).Inc()
}
