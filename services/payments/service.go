// Package payments carries the payment service's side of the event
// flow: it opens a pending payment for every new order and publishes
// the provider's verdict as payment.success or payment.failed.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shopstream/eventbus-go/contracts"
	"github.com/shopstream/eventbus-go/messaging"
)

// ErrAlreadyCompleted is returned when a completed payment is processed
// again.
var ErrAlreadyCompleted = errors.New("payments: payment already completed")

// Service owns payment records and runs charges through the provider.
type Service struct {
	store     Store
	provider  Provider
	publisher messaging.Publisher
	logger    *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithProvider replaces the default simulated gateway.
func WithProvider(provider Provider) Option {
	return func(s *Service) { s.provider = provider }
}

// NewService creates a payment service over the given store and
// publisher. Without WithProvider it charges through a simulated
// gateway approving 90% of charges.
func NewService(store Store, publisher messaging.Publisher, options ...Option) *Service {
	s := &Service{
		store:     store,
		provider:  NewSimulatedProvider(0.9, time.Now().UnixNano()),
		publisher: publisher,
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Register binds the order handler on a durable queue.
func (s *Service) Register(ctx context.Context, subscriber messaging.Subscriber, queue string) error {
	return subscriber.Subscribe(ctx, string(contracts.EventOrderCreated),
		messaging.Typed(s.handleOrderCreated),
		messaging.WithQueue(queue))
}

// handleOrderCreated opens a pending payment for the order. Idempotent:
// a redelivered event finds the existing record and does nothing.
func (s *Service) handleOrderCreated(ctx context.Context, event contracts.OrderCreated) error {
	if _, err := s.store.GetByOrder(ctx, event.OrderID); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	payment := &Payment{
		ID:        uuid.NewString(),
		OrderID:   event.OrderID,
		UserID:    event.UserID,
		Amount:    event.TotalAmount,
		Currency:  "USD",
		Method:    event.PaymentMethod,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Put(ctx, payment); err != nil {
		return fmt.Errorf("payments: save payment: %w", err)
	}

	s.logger.Info("pending payment opened", "orderId", event.OrderID, "paymentId", payment.ID)
	err := s.publisher.Publish(ctx, contracts.PaymentCreated{
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		Amount:    payment.Amount,
	})
	if err != nil {
		s.logger.Warn("payment.created publish failed", "paymentId", payment.ID, "error", err)
	}
	return nil
}

// Process charges the pending payment for an order and publishes the
// verdict. A declined charge is recorded as failed and reported as
// payment.failed; the error is still returned so the caller can relay
// it.
func (s *Service) Process(ctx context.Context, orderID string) (*Payment, error) {
	payment, err := s.store.GetByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.Status == StatusCompleted {
		return payment, ErrAlreadyCompleted
	}

	transactionID, chargeErr := s.provider.Charge(ctx, payment)
	if chargeErr != nil {
		payment.Status = StatusFailed
		payment.FailureReason = chargeErr.Error()
		if err := s.store.Put(ctx, payment); err != nil {
			return nil, fmt.Errorf("payments: save payment: %w", err)
		}

		s.logger.Warn("charge declined", "orderId", orderID, "reason", chargeErr)
		err := s.publisher.Publish(ctx, contracts.PaymentFailed{
			OrderID: orderID,
			Reason:  chargeErr.Error(),
		})
		if err != nil {
			return nil, fmt.Errorf("payments: announce failure for order %s: %w", orderID, err)
		}
		return payment, chargeErr
	}

	payment.Status = StatusCompleted
	payment.TransactionID = transactionID
	if err := s.store.Put(ctx, payment); err != nil {
		return nil, fmt.Errorf("payments: save payment: %w", err)
	}

	s.logger.Info("payment completed",
		"orderId", orderID,
		"paymentId", payment.ID,
		"transactionId", transactionID)
	err = s.publisher.Publish(ctx, contracts.PaymentSucceeded{
		OrderID:       orderID,
		PaymentID:     payment.ID,
		TransactionID: transactionID,
	})
	if err != nil {
		return nil, fmt.Errorf("payments: announce success for order %s: %w", orderID, err)
	}
	return payment, nil
}
