package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bookflow/internal/metrics"
	"bookflow/internal/models"
)

const (
	EventBookingSucceeded      = "booking_succeeded"
	EventBookingAbandoned      = "booking_abandoned"
	EventServiceStatusChanged  = "service_status_changed"
	EventPaymentPaid           = "payment_paid"
	EventCancellationRequested = "cancellation_requested"
)

// AllEventTypes lists every event the core publishes.
var AllEventTypes = []string{
	EventBookingSucceeded,
	EventBookingAbandoned,
	EventServiceStatusChanged,
	EventPaymentPaid,
	EventCancellationRequested,
}

// IntentEventPayload is the snapshot sent with booking_succeeded and
// booking_abandoned.
type IntentEventPayload struct {
	IntentID         int64             `json:"intent_id"`
	Status           string            `json:"status"`
	ClientID         string            `json:"client_id"`
	ClientEmail      string            `json:"client_email"`
	ProjectID        *int64            `json:"project_id,omitempty"`
	TotalFee         string            `json:"total_fee"`
	CheckoutLink     string            `json:"checkout_link,omitempty"`
	LineItems        []models.LineItem `json:"line_items"`
	BookedServiceIDs []int64           `json:"booked_service_ids,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// NewIntentEventPayload snapshots an intent.
func NewIntentEventPayload(intent *models.BookingIntent) IntentEventPayload {
	return IntentEventPayload{
		IntentID:     intent.ID,
		Status:       intent.Status,
		ClientID:     intent.ClientID,
		ClientEmail:  intent.ClientEmail,
		ProjectID:    intent.ProjectID,
		TotalFee:     intent.TotalFee.StringFixed(models.MoneyPlaces),
		CheckoutLink: intent.CheckoutLink,
		LineItems:    intent.LineItems,
		CreatedAt:    intent.CreatedAt,
	}
}

// ServiceEventPayload is sent with service_status_changed and
// cancellation_requested.
type ServiceEventPayload struct {
	BookedServiceID int64  `json:"booked_service_id"`
	IntentID        int64  `json:"intent_id"`
	ClientID        string `json:"client_id"`
	TeamID          int64  `json:"team_id"`
	Name            string `json:"name"`
	OldStatus       string `json:"old_status,omitempty"`
	NewStatus       string `json:"new_status"`
	Reason          string `json:"reason,omitempty"`
}

// PaymentEventPayload is sent with payment_paid.
type PaymentEventPayload struct {
	PaymentID       int64      `json:"payment_id"`
	Type            string     `json:"type"`
	PayeeID         int64      `json:"payee_id"`
	IntentID        int64      `json:"intent_id"`
	BookedServiceID int64      `json:"booked_service_id,omitempty"`
	Amount          string     `json:"amount"`
	Memo            string     `json:"memo"`
	PaidDate        *time.Time `json:"paid_date,omitempty"`
}

// NewPaymentEventPayload snapshots a payment.
func NewPaymentEventPayload(p *models.Payment) PaymentEventPayload {
	return PaymentEventPayload{
		PaymentID:       p.ID,
		Type:            p.Type,
		PayeeID:         p.PayeeID,
		IntentID:        p.IntentID,
		BookedServiceID: p.BookedServiceID,
		Amount:          p.Amount.StringFixed(models.MoneyPlaces),
		Memo:            p.Memo,
		PaidDate:        p.PaidDate,
	}
}

// Event represents a lightweight domain event.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. Handler errors are logged.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type in registration order.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	metrics.IncEvent(event.Type)

	for _, handler := range handlers {
		// Handlers run synchronously; a failing subscriber never blocks the rest.
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Str("event_id", event.ID).Msg("event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{ID: uuid.NewString(), Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
