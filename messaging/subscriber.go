package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shopstream/eventbus-go/contracts"
	"github.com/shopstream/eventbus-go/internal/rabbitmq"
)

// Subscriber registers handlers for routing patterns. Business code
// depends on this interface.
type Subscriber interface {
	Subscribe(ctx context.Context, pattern string, handler Handler, options ...SubscribeOption) error
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	queue      string
	deadLetter bool
}

// WithQueue names the consumer queue. Named queues are durable and
// survive restarts, which is what gives a service at-least-once
// delivery. Without a name the queue is exclusive, server-named, and
// gone when the process exits.
func WithQueue(name string) SubscribeOption {
	return func(o *subscribeOptions) { o.queue = name }
}

// WithoutDeadLetter disables the per-queue dead-letter companion.
func WithoutDeadLetter() SubscribeOption {
	return func(o *subscribeOptions) { o.deadLetter = false }
}

// Subscription is one binding of a queue to a routing pattern with a
// handler. It lives in the registry for the lifetime of the process so
// it can be replayed against a fresh channel after a reconnect.
type Subscription struct {
	Pattern string
	Queue   string

	handler     Handler
	opts        subscribeOptions
	consumerTag string
	cancel      context.CancelFunc
}

// SubscriberRegistry binds queues to patterns, dispatches deliveries to
// handlers one at a time per queue, and restores every registration
// after the connection manager reconnects.
//
// Acknowledgment policy: a delivery is acked once its handler returns,
// whether or not the handler failed — a failing handler must not turn
// its message into a poison pill. Failures are logged and a copy is
// routed to the dead-letter exchange for manual replay. Only payloads
// that cannot be decoded at all are rejected without requeue.
type SubscriberRegistry struct {
	conn   *rabbitmq.ConnectionManager
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string]*Subscription // keyed by queue name
	closed bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// RegistryOption configures the SubscriberRegistry.
type RegistryOption func(*SubscriberRegistry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(s *SubscriberRegistry) { s.logger = logger }
}

// NewSubscriberRegistry creates a registry and installs it as a ready
// hook on the connection manager, so registrations are replayed on
// every (re)connect before the connection reports ready.
func NewSubscriberRegistry(conn *rabbitmq.ConnectionManager, options ...RegistryOption) *SubscriberRegistry {
	s := &SubscriberRegistry{
		conn:   conn,
		logger: slog.Default(),
		subs:   make(map[string]*Subscription),
	}
	for _, opt := range options {
		opt(s)
	}
	s.rootCtx, s.rootCancel = context.WithCancel(context.Background())
	conn.OnReady(s.rebindAll)
	return s
}

// Subscribe binds a queue to a routing pattern and starts dispatching
// matching events to the handler. The registration survives reconnects
// until Unsubscribe or Close.
func (s *SubscriberRegistry) Subscribe(ctx context.Context, pattern string, handler Handler, options ...SubscribeOption) error {
	if pattern == "" {
		return errors.New("messaging: routing pattern cannot be empty")
	}
	if handler == nil {
		return errors.New("messaging: handler cannot be nil")
	}

	opts := subscribeOptions{deadLetter: true}
	for _, opt := range options {
		opt(&opts)
	}

	ch, err := s.conn.ChannelContext(ctx)
	if err != nil {
		return fmt.Errorf("messaging: subscribe %q: %w", pattern, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("messaging: registry closed")
	}
	if opts.queue != "" {
		if _, exists := s.subs[opts.queue]; exists {
			return fmt.Errorf("messaging: already subscribed on queue %q", opts.queue)
		}
	}

	sub := &Subscription{
		Pattern:     pattern,
		handler:     handler,
		opts:        opts,
		consumerTag: "eventbus-" + uuid.NewString()[:8],
	}
	if err := s.bind(ch, sub); err != nil {
		return fmt.Errorf("messaging: subscribe %q: %w", pattern, err)
	}
	s.subs[sub.Queue] = sub

	s.logger.Info("subscribed",
		"pattern", pattern,
		"queue", sub.Queue,
		"durable", opts.queue != "")
	return nil
}

// Unsubscribe removes a registration and stops its consumer. The queue
// itself is left in place; a durable queue keeps collecting messages
// for the next subscriber.
func (s *SubscriberRegistry) Unsubscribe(ctx context.Context, queue string) error {
	s.mu.Lock()
	sub, ok := s.subs[queue]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("messaging: not subscribed on queue %q", queue)
	}
	delete(s.subs, queue)
	s.mu.Unlock()

	if sub.cancel != nil {
		sub.cancel()
	}
	if ch, err := s.conn.ChannelContext(ctx); err == nil {
		if err := ch.Cancel(sub.consumerTag, false); err != nil {
			s.logger.Warn("consumer cancel failed", "queue", queue, "error", err)
		}
	}

	s.logger.Info("unsubscribed", "queue", queue)
	return nil
}

// Subscriptions returns the queue names currently registered.
func (s *SubscriberRegistry) Subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	queues := make([]string, 0, len(s.subs))
	for q := range s.subs {
		queues = append(queues, q)
	}
	return queues
}

// Close stops all consumers and waits for in-flight handlers to
// finish. The registry cannot be reused afterwards.
func (s *SubscriberRegistry) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.subs = make(map[string]*Subscription)
	s.mu.Unlock()

	s.rootCancel()
	s.wg.Wait()
	s.logger.Info("subscriber registry closed")
	return nil
}

// rebindAll replays every registration on a fresh channel. It runs as
// a connection-manager ready hook, so consumers are bound before any
// publisher can reach the new channel. Server-named queues come back
// under new names; the registry is re-keyed accordingly and its size
// never changes across a reconnect.
func (s *SubscriberRegistry) rebindAll(ctx context.Context, ch rabbitmq.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.subs) == 0 {
		return nil
	}

	rebound := make(map[string]*Subscription, len(s.subs))
	for _, sub := range s.subs {
		if err := s.bind(ch, sub); err != nil {
			return fmt.Errorf("rebind %q on queue %q: %w", sub.Pattern, sub.Queue, err)
		}
		rebound[sub.Queue] = sub
		s.logger.Info("subscription restored", "pattern", sub.Pattern, "queue", sub.Queue)
	}
	s.subs = rebound
	return nil
}

// bind declares and binds the subscription's queue on ch and starts its
// dispatch loop. Callers hold s.mu.
func (s *SubscriberRegistry) bind(ch rabbitmq.Channel, sub *Subscription) error {
	name, err := rabbitmq.DeclareQueue(ch, rabbitmq.QueueSpec{
		Name:       sub.opts.queue,
		DeadLetter: sub.opts.deadLetter,
	}, s.conn.DeadLetterExchange())
	if err != nil {
		return err
	}
	sub.Queue = name

	if err := rabbitmq.BindQueue(ch, name, s.conn.Exchange(), sub.Pattern); err != nil {
		return err
	}
	// One in-flight message per queue: ordering within a queue depends
	// on it.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(name, sub.consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	if sub.cancel != nil {
		sub.cancel() // release the previous incarnation's context
	}
	dispatchCtx, cancel := context.WithCancel(s.rootCtx)
	sub.cancel = cancel

	s.wg.Add(1)
	go s.dispatch(dispatchCtx, ch, sub, deliveries)
	return nil
}

// dispatch processes deliveries for one queue, strictly one at a time.
func (s *SubscriberRegistry) dispatch(ctx context.Context, ch rabbitmq.Channel, sub *Subscription, deliveries <-chan amqp.Delivery) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				// Channel died; the rebind hook takes over on the next
				// successful connect.
				s.logger.Warn("delivery stream closed", "queue", sub.Queue)
				return
			}
			s.handleDelivery(ctx, ch, sub, d)
		}
	}
}

func (s *SubscriberRegistry) handleDelivery(ctx context.Context, ch rabbitmq.Channel, sub *Subscription, d amqp.Delivery) {
	var env contracts.Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		s.logger.Error("discarding undecodable message",
			"queue", sub.Queue,
			"routingKey", d.RoutingKey,
			"error", err)
		malformedMessages.WithLabelValues(sub.Queue).Inc()
		s.reject(d, sub)
		return
	}

	eventType := env.EventType
	if eventType == "" {
		eventType = contracts.EventType(d.RoutingKey)
	}

	err := sub.handler.Handle(ctx, eventType, env.Data)
	switch {
	case err == nil:
		eventsConsumed.WithLabelValues(sub.Queue).Inc()
	case errors.Is(err, ErrMalformedPayload):
		s.logger.Error("discarding malformed payload",
			"queue", sub.Queue,
			"eventType", eventType,
			"messageId", env.ID,
			"error", err)
		malformedMessages.WithLabelValues(sub.Queue).Inc()
		s.reject(d, sub)
		return
	default:
		// Handler failures are terminal here: the message is acked so
		// it cannot poison the queue, and a copy goes to the
		// dead-letter exchange for manual replay.
		s.logger.Error("handler failed",
			"queue", sub.Queue,
			"eventType", eventType,
			"messageId", env.ID,
			"error", err)
		handlerFailures.WithLabelValues(sub.Queue).Inc()
		s.deadLetter(ctx, ch, sub, d)
	}

	if err := d.Ack(false); err != nil {
		s.logger.Error("ack failed", "queue", sub.Queue, "error", err)
	}
}

// reject drops a message without requeue. With dead-letter topology in
// place the broker routes it to the companion DLQ.
func (s *SubscriberRegistry) reject(d amqp.Delivery, sub *Subscription) {
	if err := d.Reject(false); err != nil {
		s.logger.Error("reject failed", "queue", sub.Queue, "error", err)
	}
}

// deadLetter publishes a copy of a failed delivery to the dead-letter
// exchange under the queue's routing key. Best effort: a failure here
// is logged, never propagated.
func (s *SubscriberRegistry) deadLetter(ctx context.Context, ch rabbitmq.Channel, sub *Subscription, d amqp.Delivery) {
	dlx := s.conn.DeadLetterExchange()
	if dlx == "" || !sub.opts.deadLetter || sub.opts.queue == "" {
		return
	}
	err := ch.PublishWithContext(ctx, dlx, sub.Queue, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Body:         d.Body,
	})
	if err != nil {
		s.logger.Warn("dead-letter publish failed", "queue", sub.Queue, "error", err)
		return
	}
	deadLettered.WithLabelValues(sub.Queue).Inc()
}
