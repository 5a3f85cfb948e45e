package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"

	"github.com/shopstream/eventbus-go/contracts"
	"github.com/shopstream/eventbus-go/internal/rabbitmq"
)

// Publisher delivers domain events to the shared exchange. Business
// code depends on this interface so tests can substitute a recorder.
type Publisher interface {
	Publish(ctx context.Context, event contracts.DomainEvent) error
	PublishRaw(ctx context.Context, eventType contracts.EventType, payload any) error
}

// EventPublisher publishes events through the connection manager with
// persistent delivery mode. It does not retry a broker-level rejection:
// the error goes back to the caller, who owns the business-level retry.
// A circuit breaker fails callers fast while the broker is flapping.
type EventPublisher struct {
	conn    *rabbitmq.ConnectionManager
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker
}

// PublisherOption configures the EventPublisher.
type PublisherOption func(*EventPublisher)

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *EventPublisher) { p.logger = logger }
}

// WithBreakerSettings replaces the default circuit breaker settings.
func WithBreakerSettings(settings gobreaker.Settings) PublisherOption {
	return func(p *EventPublisher) { p.breaker = gobreaker.NewCircuitBreaker(settings) }
}

// NewEventPublisher creates a publisher bound to the shared exchange
// owned by the connection manager.
func NewEventPublisher(conn *rabbitmq.ConnectionManager, options ...PublisherOption) *EventPublisher {
	p := &EventPublisher{
		conn:   conn,
		logger: slog.Default(),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "eventbus-publisher",
			Timeout: 15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Publish sends a typed domain event under its own routing key.
func (p *EventPublisher) Publish(ctx context.Context, event contracts.DomainEvent) error {
	env, err := contracts.NewEnvelope(event)
	if err != nil {
		return err
	}
	return p.publish(ctx, env)
}

// PublishRaw sends an arbitrary payload under an explicit routing key.
func (p *EventPublisher) PublishRaw(ctx context.Context, eventType contracts.EventType, payload any) error {
	env, err := contracts.NewRawEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	return p.publish(ctx, env)
}

func (p *EventPublisher) publish(ctx context.Context, env *contracts.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("messaging: encode envelope: %w", err)
	}

	ch, err := p.conn.ChannelContext(ctx)
	if err != nil {
		publishFailures.WithLabelValues(string(env.EventType)).Inc()
		return fmt.Errorf("messaging: publish %s: %w", env.EventType, err)
	}

	_, err = p.breaker.Execute(func() (any, error) {
		return nil, ch.PublishWithContext(ctx, p.conn.Exchange(), string(env.EventType), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    env.ID,
			Timestamp:    env.PublishedAt,
			Body:         body,
		})
	})
	if err != nil {
		publishFailures.WithLabelValues(string(env.EventType)).Inc()
		p.logger.Error("publish failed",
			"eventType", env.EventType,
			"messageId", env.ID,
			"error", err)
		return fmt.Errorf("messaging: publish %s: %w", env.EventType, err)
	}

	eventsPublished.WithLabelValues(string(env.EventType)).Inc()
	p.logger.Debug("event published",
		"eventType", env.EventType,
		"messageId", env.ID)
	return nil
}
