package products

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no product exists for an ID.
var ErrNotFound = errors.New("products: product not found")

// Product is a catalog entry with live inventory.
type Product struct {
	ID       string
	Name     string
	Price    float64
	Category string
	Quantity int
	InStock  bool
}

// Store persists the catalog.
type Store interface {
	Get(ctx context.Context, id string) (*Product, error)
	Put(ctx context.Context, product *Product) error
	List(ctx context.Context) ([]*Product, error)
}

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*Product
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{products: make(map[string]*Product)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *product
	return &cp, nil
}

func (s *MemoryStore) Put(ctx context.Context, product *Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *product
	s.products[product.ID] = &cp
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Product, 0, len(s.products))
	for _, product := range s.products {
		cp := *product
		out = append(out, &cp)
	}
	return out, nil
}
