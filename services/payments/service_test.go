package payments

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

// approveAll is a provider that accepts every charge.
type approveAll struct{}

func (approveAll) Charge(ctx context.Context, payment *Payment) (string, error) {
	return "txn-fixed", nil
}

func TestHandleOrderCreated(t *testing.T) {
	event := contracts.OrderCreated{
		OrderID:       "ord-1",
		UserID:        "usr-1",
		TotalAmount:   120,
		PaymentMethod: "credit_card",
	}

	t.Run("opens a pending payment", func(t *testing.T) {
		store := NewMemoryStore()
		pub := &pubRecorder{}
		svc := NewService(store, pub)

		require.NoError(t, svc.handleOrderCreated(context.Background(), event))

		payment, err := store.GetByOrder(context.Background(), "ord-1")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, payment.Status)
		assert.Equal(t, 120.0, payment.Amount)
		assert.Equal(t, "USD", payment.Currency)

		events := pub.published()
		require.Len(t, events, 1)
		assert.Equal(t, contracts.EventPaymentCreated, events[0].Kind())
	})

	t.Run("redelivery is idempotent", func(t *testing.T) {
		store := NewMemoryStore()
		pub := &pubRecorder{}
		svc := NewService(store, pub)

		require.NoError(t, svc.handleOrderCreated(context.Background(), event))
		first, err := store.GetByOrder(context.Background(), "ord-1")
		require.NoError(t, err)

		require.NoError(t, svc.handleOrderCreated(context.Background(), event))
		second, err := store.GetByOrder(context.Background(), "ord-1")
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID, "the pending payment must not be replaced")
		assert.Len(t, pub.published(), 1)
	})
}

func TestProcess(t *testing.T) {
	pending := func(t *testing.T, store Store) {
		t.Helper()
		require.NoError(t, store.Put(context.Background(), &Payment{
			ID: "pay-1", OrderID: "ord-1", UserID: "usr-1", Amount: 50, Status: StatusPending,
		}))
	}

	t.Run("approved charge completes and announces success", func(t *testing.T) {
		store := NewMemoryStore()
		pub := &pubRecorder{}
		svc := NewService(store, pub, WithProvider(approveAll{}))
		pending(t, store)

		payment, err := svc.Process(context.Background(), "ord-1")
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, payment.Status)
		assert.Equal(t, "txn-fixed", payment.TransactionID)

		events := pub.published()
		require.Len(t, events, 1)
		succeeded, ok := events[0].(contracts.PaymentSucceeded)
		require.True(t, ok)
		assert.Equal(t, "ord-1", succeeded.OrderID)
		assert.Equal(t, "pay-1", succeeded.PaymentID)
		assert.Equal(t, "txn-fixed", succeeded.TransactionID)
	})

	t.Run("declined charge records failure and announces it", func(t *testing.T) {
		store := NewMemoryStore()
		pub := &pubRecorder{}
		svc := NewService(store, pub, WithProvider(NewSimulatedProvider(0, 1)))
		pending(t, store)

		payment, err := svc.Process(context.Background(), "ord-1")
		require.ErrorIs(t, err, ErrChargeDeclined)
		assert.Equal(t, StatusFailed, payment.Status)
		assert.NotEmpty(t, payment.FailureReason)

		events := pub.published()
		require.Len(t, events, 1)
		failed, ok := events[0].(contracts.PaymentFailed)
		require.True(t, ok)
		assert.Equal(t, "ord-1", failed.OrderID)
		assert.NotEmpty(t, failed.Reason)
	})

	t.Run("a completed payment is not charged twice", func(t *testing.T) {
		store := NewMemoryStore()
		svc := NewService(store, &pubRecorder{}, WithProvider(approveAll{}))
		pending(t, store)

		_, err := svc.Process(context.Background(), "ord-1")
		require.NoError(t, err)

		_, err = svc.Process(context.Background(), "ord-1")
		assert.ErrorIs(t, err, ErrAlreadyCompleted)
	})

	t.Run("unknown order", func(t *testing.T) {
		svc := NewService(NewMemoryStore(), &pubRecorder{})

		_, err := svc.Process(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSimulatedProvider(t *testing.T) {
	t.Run("rate one always approves", func(t *testing.T) {
		p := NewSimulatedProvider(1.0, 42)
		for i := 0; i < 20; i++ {
			txn, err := p.Charge(context.Background(), &Payment{})
			require.NoError(t, err)
			assert.NotEmpty(t, txn)
		}
	})

	t.Run("rate zero always declines", func(t *testing.T) {
		p := NewSimulatedProvider(0, 42)
		for i := 0; i < 20; i++ {
			_, err := p.Charge(context.Background(), &Payment{})
			assert.ErrorIs(t, err, ErrChargeDeclined)
		}
	})
}
