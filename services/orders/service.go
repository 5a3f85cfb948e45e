// Package orders carries the order service's side of the event flow:
// it publishes order.created at checkout and reacts to the payment
// service's verdict by marking orders paid or cancelled.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shopstream/eventbus-go/contracts"
	"github.com/shopstream/eventbus-go/messaging"
)

// ErrEmptyOrder is returned when a checkout carries no items.
var ErrEmptyOrder = errors.New("orders: cart is empty")

// Service owns order state transitions and their events.
type Service struct {
	store     Store
	publisher messaging.Publisher
	logger    *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates an order service over the given store and
// publisher.
func NewService(store Store, publisher messaging.Publisher, options ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: publisher,
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Checkout creates a pending order from the given cart and announces it
// on the bus. The payment and product services pick the event up from
// there.
func (s *Service) Checkout(ctx context.Context, userID string, items []contracts.OrderItem, paymentMethod string) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}

	var total float64
	for _, item := range items {
		total += item.Price * float64(item.Quantity)
	}

	order := &Order{
		ID:            uuid.NewString(),
		UserID:        userID,
		Items:         items,
		TotalAmount:   total,
		PaymentMethod: paymentMethod,
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.Put(ctx, order); err != nil {
		return nil, fmt.Errorf("orders: save order: %w", err)
	}

	err := s.publisher.Publish(ctx, contracts.OrderCreated{
		OrderID:       order.ID,
		UserID:        order.UserID,
		Items:         order.Items,
		TotalAmount:   order.TotalAmount,
		PaymentMethod: order.PaymentMethod,
	})
	if err != nil {
		return nil, fmt.Errorf("orders: announce order %s: %w", order.ID, err)
	}

	s.logger.Info("order created", "orderId", order.ID, "total", order.TotalAmount)
	return order, nil
}

// Cancel cancels a pending order. Paid or already-cancelled orders are
// refused.
func (s *Service) Cancel(ctx context.Context, orderID string) (*Order, error) {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusPending {
		return nil, fmt.Errorf("orders: order %s cannot be cancelled because it is %s", orderID, order.Status)
	}

	order.Status = StatusCancelled
	if err := s.store.Put(ctx, order); err != nil {
		return nil, fmt.Errorf("orders: save order: %w", err)
	}

	if err := s.publisher.Publish(ctx, contracts.OrderUpdated{OrderID: order.ID, Status: order.Status}); err != nil {
		s.logger.Warn("order.updated publish failed", "orderId", order.ID, "error", err)
	}
	return order, nil
}

// Register binds the service's payment event handlers on a durable
// queue. One queue carries every payment.* event so the verdicts for an
// order arrive in publish order.
func (s *Service) Register(ctx context.Context, subscriber messaging.Subscriber, queue string) error {
	return subscriber.Subscribe(ctx, "payment.*", messaging.HandlerFunc(s.handlePaymentEvent),
		messaging.WithQueue(queue))
}

func (s *Service) handlePaymentEvent(ctx context.Context, eventType contracts.EventType, payload json.RawMessage) error {
	switch eventType {
	case contracts.EventPaymentSucceeded:
		return messaging.Typed(s.markPaid).Handle(ctx, eventType, payload)
	case contracts.EventPaymentFailed:
		return messaging.Typed(s.markFailed).Handle(ctx, eventType, payload)
	case contracts.EventPaymentCreated:
		return nil // informational
	default:
		s.logger.Warn("ignoring unexpected payment event", "eventType", eventType)
		return nil
	}
}

// markPaid flips the order to paid. An unknown order is logged and
// skipped: the event may belong to an order created by another
// deployment sharing the exchange.
func (s *Service) markPaid(ctx context.Context, event contracts.PaymentSucceeded) error {
	order, err := s.store.Get(ctx, event.OrderID)
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn("payment.success for unknown order", "orderId", event.OrderID)
		return nil
	}
	if err != nil {
		return err
	}
	if order.IsPaid {
		return nil // duplicate delivery
	}

	order.Status = StatusPaid
	order.IsPaid = true
	order.PaidAt = time.Now().UTC()
	order.PaymentID = event.PaymentID
	if err := s.store.Put(ctx, order); err != nil {
		return err
	}

	s.logger.Info("order marked as paid", "orderId", order.ID, "paymentId", event.PaymentID)
	if err := s.publisher.Publish(ctx, contracts.OrderPaid{OrderID: order.ID, PaymentID: order.PaymentID}); err != nil {
		s.logger.Warn("order.paid publish failed", "orderId", order.ID, "error", err)
	}
	return nil
}

// markFailed cancels the order and records the payment failure reason.
func (s *Service) markFailed(ctx context.Context, event contracts.PaymentFailed) error {
	order, err := s.store.Get(ctx, event.OrderID)
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn("payment.failed for unknown order", "orderId", event.OrderID)
		return nil
	}
	if err != nil {
		return err
	}

	order.Status = StatusCancelled
	order.FailReason = event.Reason
	if err := s.store.Put(ctx, order); err != nil {
		return err
	}

	s.logger.Info("order cancelled after payment failure",
		"orderId", order.ID,
		"reason", event.Reason)
	return nil
}
