package users

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopstream/eventbus-go/contracts"
)

type pubRecorder struct {
	mu     sync.Mutex
	events []contracts.DomainEvent
}

func (p *pubRecorder) Publish(ctx context.Context, event contracts.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *pubRecorder) PublishRaw(ctx context.Context, eventType contracts.EventType, payload any) error {
	return nil
}

func (p *pubRecorder) published() []contracts.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]contracts.DomainEvent, len(p.events))
	copy(out, p.events)
	return out
}

func TestRegister(t *testing.T) {
	t.Run("creates the account and announces it", func(t *testing.T) {
		store := NewMemoryStore()
		pub := &pubRecorder{}
		svc := NewService(store, pub)

		user, err := svc.Register(context.Background(), "a@example.com", "Alice")
		require.NoError(t, err)
		assert.NotEmpty(t, user.ID)

		events := pub.published()
		require.Len(t, events, 1)
		created, ok := events[0].(contracts.UserCreated)
		require.True(t, ok)
		assert.Equal(t, user.ID, created.UserID)
		assert.Equal(t, "a@example.com", created.Email)
	})

	t.Run("rejects a duplicate email", func(t *testing.T) {
		svc := NewService(NewMemoryStore(), &pubRecorder{})

		_, err := svc.Register(context.Background(), "a@example.com", "Alice")
		require.NoError(t, err)
		_, err = svc.Register(context.Background(), "a@example.com", "Mallory")
		assert.ErrorIs(t, err, ErrDuplicateEmail)
	})
}

func TestUpdateName(t *testing.T) {
	t.Run("announces the change", func(t *testing.T) {
		store := NewMemoryStore()
		pub := &pubRecorder{}
		svc := NewService(store, pub)

		user, err := svc.Register(context.Background(), "a@example.com", "Alice")
		require.NoError(t, err)

		updated, err := svc.UpdateName(context.Background(), user.ID, "Alicia")
		require.NoError(t, err)
		assert.Equal(t, "Alicia", updated.Name)

		events := pub.published()
		require.Len(t, events, 2)
		assert.Equal(t, contracts.EventUserUpdated, events[1].Kind())
	})

	t.Run("unknown user", func(t *testing.T) {
		svc := NewService(NewMemoryStore(), &pubRecorder{})

		_, err := svc.UpdateName(context.Background(), "nope", "X")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
