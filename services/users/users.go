// Package users carries the user service's side of the event flow. It
// only produces: user.created and user.updated are reserved for
// analytics consumers, so registration and profile changes are
// announced even though no in-scope service listens today.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopstream/eventbus-go/contracts"
	"github.com/shopstream/eventbus-go/messaging"
)

// ErrNotFound is returned when no user exists for an ID.
var ErrNotFound = errors.New("users: user not found")

// ErrDuplicateEmail is returned when a registration reuses an email.
var ErrDuplicateEmail = errors.New("users: email already registered")

// User is an account.
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

// Store persists accounts.
type Store interface {
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Put(ctx context.Context, user *User) error
}

// MemoryStore is a Store backed by maps.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]*User
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]*User),
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (s *MemoryStore) Put(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *user
	s.byID[user.ID] = &cp
	s.byEmail[user.Email] = &cp
	return nil
}

// Service owns accounts and their events.
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

// NewService creates a user service over the given store and publisher.
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

// Register creates an account and announces it.
func (s *Service) Register(ctx context.Context, email, name string) (*User, error) {
	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	user := &User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Put(ctx, user); err != nil {
		return nil, fmt.Errorf("users: save user: %w", err)
	}

	err := s.publisher.Publish(ctx, contracts.UserCreated{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	})
	if err != nil {
		s.logger.Warn("user.created publish failed", "userId", user.ID, "error", err)
	}

	s.logger.Info("user registered", "userId", user.ID)
	return user, nil
}

// UpdateName changes the account's display name and announces the
// change.
func (s *Service) UpdateName(ctx context.Context, userID, name string) (*User, error) {
	user, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	user.Name = name
	if err := s.store.Put(ctx, user); err != nil {
		return nil, fmt.Errorf("users: save user: %w", err)
	}

	if err := s.publisher.Publish(ctx, contracts.UserUpdated{UserID: user.ID}); err != nil {
		s.logger.Warn("user.updated publish failed", "userId", user.ID, "error", err)
	}
	return user, nil
}
