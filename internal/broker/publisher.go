// Package broker forwards domain events to RabbitMQ for out-of-process
// subscribers such as mailers and analytics.
package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"bookflow/internal/events"
)

const publishTimeout = 5 * time.Second

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	logger   *zerolog.Logger
}

func NewPublisher(url, exchange string, logger *zerolog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

// RoutingKey maps an event type to its topic, e.g. "booking.payment_paid".
func RoutingKey(eventType string) string {
	return "booking." + eventType
}

// PublishEvent sends the event payload with its id and type as AMQP
// properties.
func (p *Publisher) PublishEvent(ctx context.Context, event *events.Event) error {
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(event.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         event.Type,
		Timestamp:    event.CreatedAt,
		Body:         event.Payload,
	})
}

// Forward subscribes the publisher to every core event on the bus. Publish
// failures are returned to the bus, which logs them.
func (p *Publisher) Forward(bus *events.EventBus) {
	for _, eventType := range events.AllEventTypes {
		bus.Subscribe(eventType, func(event *events.Event) error {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if err := p.PublishEvent(ctx, event); err != nil {
				return fmt.Errorf("forward %s to %s: %w", event.Type, p.exchange, err)
			}
			return nil
		})
	}
	if p.logger != nil {
		p.logger.Info().Str("exchange", p.exchange).Int("events", len(events.AllEventTypes)).Msg("Forwarding events to broker")
	}
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
