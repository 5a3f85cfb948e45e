// Package products carries the product service's side of the event
// flow: inventory follows order.created, and every catalog or inventory
// change is announced as product.updated.
package products

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shopstream/eventbus-go/contracts"
	"github.com/shopstream/eventbus-go/messaging"
)

// Service owns the catalog and reacts to orders by adjusting inventory.
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

// NewService creates a product service over the given store and
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

// Create adds a catalog entry and announces it.
func (s *Service) Create(ctx context.Context, name string, price float64, category string, quantity int) (*Product, error) {
	product := &Product{
		ID:       uuid.NewString(),
		Name:     name,
		Price:    price,
		Category: category,
		Quantity: quantity,
		InStock:  quantity > 0,
	}
	if err := s.store.Put(ctx, product); err != nil {
		return nil, fmt.Errorf("products: save product: %w", err)
	}

	err := s.publisher.Publish(ctx, contracts.ProductCreated{
		ProductID: product.ID,
		Name:      product.Name,
		Price:     product.Price,
		Quantity:  product.Quantity,
	})
	if err != nil {
		s.logger.Warn("product.created publish failed", "productId", product.ID, "error", err)
	}
	return product, nil
}

// SetQuantity replaces a product's inventory level, for restocks and
// corrections.
func (s *Service) SetQuantity(ctx context.Context, productID string, quantity int) (*Product, error) {
	product, err := s.store.Get(ctx, productID)
	if err != nil {
		return nil, err
	}

	product.Quantity = quantity
	product.InStock = quantity > 0
	if err := s.store.Put(ctx, product); err != nil {
		return nil, fmt.Errorf("products: save product: %w", err)
	}
	s.announceChange(ctx, product, "updated")
	return product, nil
}

// Register binds the inventory handler on a durable queue.
func (s *Service) Register(ctx context.Context, subscriber messaging.Subscriber, queue string) error {
	return subscriber.Subscribe(ctx, string(contracts.EventOrderCreated),
		messaging.Typed(s.handleOrderCreated),
		messaging.WithQueue(queue))
}

// handleOrderCreated decrements inventory for every line of the order.
// Unknown products are skipped: the order may reference a catalog entry
// this deployment never saw, and blocking the whole order over it would
// dead-letter events other lines still need.
func (s *Service) handleOrderCreated(ctx context.Context, event contracts.OrderCreated) error {
	for _, item := range event.Items {
		product, err := s.store.Get(ctx, item.ProductID)
		if err != nil {
			s.logger.Warn("order references unknown product",
				"orderId", event.OrderID,
				"productId", item.ProductID)
			continue
		}

		product.Quantity -= item.Quantity
		if product.Quantity <= 0 {
			product.InStock = false
		}
		if err := s.store.Put(ctx, product); err != nil {
			return fmt.Errorf("products: save product %s: %w", product.ID, err)
		}

		s.logger.Info("inventory adjusted",
			"productId", product.ID,
			"quantity", product.Quantity,
			"inStock", product.InStock)
		s.announceChange(ctx, product, "inventory")
	}
	return nil
}

// announceChange publishes product.updated. Best effort: inventory is
// already committed, and a lost announcement only delays downstream
// caches until the next change.
func (s *Service) announceChange(ctx context.Context, product *Product, action string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.publisher.Publish(ctx, contracts.ProductUpdated{
		ProductID: product.ID,
		Name:      product.Name,
		InStock:   product.InStock,
		Quantity:  product.Quantity,
		Action:    action,
	})
	if err != nil {
		s.logger.Warn("product.updated publish failed", "productId", product.ID, "error", err)
	}
}
