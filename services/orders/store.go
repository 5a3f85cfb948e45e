package orders

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopstream/eventbus-go/contracts"
)

// ErrNotFound is returned when no order exists for an ID.
var ErrNotFound = errors.New("orders: order not found")

// Order states.
const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
)

// Order is an order as the order service sees it.
type Order struct {
	ID            string
	UserID        string
	Items         []contracts.OrderItem
	TotalAmount   float64
	PaymentMethod string
	Status        string
	IsPaid        bool
	PaidAt        time.Time
	PaymentID     string
	FailReason    string
	CreatedAt     time.Time
}

// Store persists orders. The bus does not care where; the in-memory
// implementation below is enough for tests and demos.
type Store interface {
	Get(ctx context.Context, id string) (*Order, error)
	Put(ctx context.Context, order *Order) error
	ListByUser(ctx context.Context, userID string) ([]*Order, error)
}

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*Order)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *order
	return &cp, nil
}

func (s *MemoryStore) Put(ctx context.Context, order *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Order
	for _, order := range s.orders {
		if order.UserID == userID {
			cp := *order
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
