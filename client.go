// Package eventbus is the entry point for services joining the shared
// event bus. A Client owns one broker connection, one publisher, and
// one subscriber registry; services create a Client at startup and keep
// it for the life of the process.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopstream/eventbus-go/config"
	"github.com/shopstream/eventbus-go/internal/rabbitmq"
	"github.com/shopstream/eventbus-go/messaging"
)

// Client wires the connection manager, publisher, and subscriber
// registry together for one service.
type Client struct {
	conn       *rabbitmq.ConnectionManager
	publisher  *messaging.EventPublisher
	subscriber *messaging.SubscriberRegistry

	serviceName string
	logger      *slog.Logger
}

type clientConfig struct {
	logger *slog.Logger
	dialer rabbitmq.Dialer
}

// ClientOption configures the Client.
type ClientOption func(*clientConfig)

// WithLogger replaces the logger built from the configuration.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = logger }
}

// WithDialer replaces the AMQP dialer. Tests use this to run against an
// in-memory broker.
func WithDialer(dialer rabbitmq.Dialer) ClientOption {
	return func(c *clientConfig) { c.dialer = dialer }
}

// NewClient builds a client from the given configuration. No connection
// is attempted until Connect is called, so a service can construct its
// client before the broker is reachable.
func NewClient(cfg *config.Config, options ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("eventbus: config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("eventbus: %w", err)
	}

	cc := &clientConfig{logger: cfg.Logger()}
	for _, opt := range options {
		opt(cc)
	}

	connOpts := []rabbitmq.Option{
		rabbitmq.WithLogger(cc.logger),
		rabbitmq.WithExchange(cfg.Exchange),
		rabbitmq.WithDeadLetterExchange(cfg.DeadLetterExchange),
		rabbitmq.WithReconnectDelay(cfg.ReconnectDelay),
		rabbitmq.WithMaxReconnectDelay(cfg.MaxReconnectDelay),
		rabbitmq.WithMaxRetries(cfg.MaxReconnectAttempts),
	}
	if cc.dialer != nil {
		connOpts = append(connOpts, rabbitmq.WithDialer(cc.dialer))
	}
	conn := rabbitmq.NewConnectionManager(cfg.AMQPURL, connOpts...)

	return &Client{
		conn:        conn,
		publisher:   messaging.NewEventPublisher(conn, messaging.WithPublisherLogger(cc.logger)),
		subscriber:  messaging.NewSubscriberRegistry(conn, messaging.WithRegistryLogger(cc.logger)),
		serviceName: cfg.ServiceName,
		logger:      cc.logger,
	}, nil
}

// Connect establishes the broker connection and declares the shared
// topology. On a retryable failure the client keeps reconnecting in the
// background, so callers may treat the error as advisory and proceed.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// IsConnected reports whether the broker connection is live.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Publisher returns the event publisher.
func (c *Client) Publisher() messaging.Publisher {
	return c.publisher
}

// Subscriber returns the subscriber registry.
func (c *Client) Subscriber() *messaging.SubscriberRegistry {
	return c.subscriber
}

// QueueName prefixes a queue suffix with the service name, giving each
// service its own durable delivery stream for a given concern.
func (c *Client) QueueName(suffix string) string {
	if c.serviceName == "" {
		return suffix
	}
	return c.serviceName + "." + suffix
}

// Close shuts the client down: consumers stop first so no delivery
// arrives on a dying connection, then the connection is torn down.
func (c *Client) Close() error {
	if err := c.subscriber.Close(); err != nil {
		c.logger.Warn("subscriber close failed", "error", err)
	}
	return c.conn.Close()
}
