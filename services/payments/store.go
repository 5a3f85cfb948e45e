package payments

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when no payment exists for an order.
var ErrNotFound = errors.New("payments: payment not found")

// Payment states.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Payment is one charge attempt for an order. OrderID is unique: an
// order has at most one payment record, updated in place on retries.
type Payment struct {
	ID            string
	OrderID       string
	UserID        string
	Amount        float64
	Currency      string
	Method        string
	Status        string
	TransactionID string
	FailureReason string
	CreatedAt     time.Time
}

// Store persists payments, keyed by order.
type Store interface {
	GetByOrder(ctx context.Context, orderID string) (*Payment, error)
	Put(ctx context.Context, payment *Payment) error
}

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	mu      sync.RWMutex
	byOrder map[string]*Payment
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byOrder: make(map[string]*Payment)}
}

func (s *MemoryStore) GetByOrder(ctx context.Context, orderID string) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payment, ok := s.byOrder[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *payment
	return &cp, nil
}

func (s *MemoryStore) Put(ctx context.Context, payment *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *payment
	s.byOrder[payment.OrderID] = &cp
	return nil
}
