package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopstream/eventbus-go/contracts"
	"github.com/shopstream/eventbus-go/internal/rabbitmq/rabbitmqtest"
)

// recorder collects handled events and can be scripted to fail.
type recorder struct {
	mu     sync.Mutex
	events []contracts.EventType
	fail   error
}

func (r *recorder) Handle(ctx context.Context, eventType contracts.EventType, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	return r.fail
}

func (r *recorder) seen() []contracts.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]contracts.EventType, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestSubscribe(t *testing.T) {
	t.Run("delivers matching events to the handler", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		cm := testConn(t, broker)
		reg := NewSubscriberRegistry(cm)
		t.Cleanup(func() { reg.Close() })
		pub := NewEventPublisher(cm)

		rec := &recorder{}
		require.NoError(t, reg.Subscribe(context.Background(), "order.*", rec, WithQueue("product-service.orders")))

		require.NoError(t, pub.Publish(context.Background(), contracts.OrderCreated{OrderID: "ord-1"}))
		require.NoError(t, pub.Publish(context.Background(), contracts.UserCreated{UserID: "usr-1"}))

		require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
		assert.Equal(t, []contracts.EventType{contracts.EventOrderCreated}, rec.seen())
	})

	t.Run("rejects an empty pattern and a nil handler", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		cm := testConn(t, broker)
		reg := NewSubscriberRegistry(cm)
		t.Cleanup(func() { reg.Close() })

		assert.Error(t, reg.Subscribe(context.Background(), "", &recorder{}))
		assert.Error(t, reg.Subscribe(context.Background(), "order.*", nil))
	})

	t.Run("refuses a second subscription on the same queue", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		cm := testConn(t, broker)
		reg := NewSubscriberRegistry(cm)
		t.Cleanup(func() { reg.Close() })

		require.NoError(t, reg.Subscribe(context.Background(), "order.*", &recorder{}, WithQueue("svc.orders")))
		err := reg.Subscribe(context.Background(), "payment.*", &recorder{}, WithQueue("svc.orders"))
		assert.Error(t, err)
		assert.Len(t, reg.Subscriptions(), 1)
	})

	t.Run("named queue gets a dead-letter companion", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		cm := testConn(t, broker)
		reg := NewSubscriberRegistry(cm)
		t.Cleanup(func() { reg.Close() })

		require.NoError(t, reg.Subscribe(context.Background(), "payment.*", &recorder{}, WithQueue("order-service.payments")))
		assert.Contains(t, broker.Queues(), "order-service.payments.dlq")
	})
}

func TestSubscriptionRecovery(t *testing.T) {
	t.Run("registrations survive a dropped connection", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		cm := testConn(t, broker)
		reg := NewSubscriberRegistry(cm)
		t.Cleanup(func() { reg.Close() })
		pub := NewEventPublisher(cm)

		rec := &recorder{}
		require.NoError(t, reg.Subscribe(context.Background(), "payment.*", rec, WithQueue("order-service.payments")))
		before := len(reg.Subscriptions())

		broker.Drop(&amqp.Error{Code: amqp.ConnectionForced, Reason: "node restart"})
		require.Eventually(t, cm.IsConnected, time.Second, time.Millisecond)

		assert.Len(t, reg.Subscriptions(), before, "registry size must not change across a reconnect")

		require.NoError(t, pub.Publish(context.Background(), contracts.PaymentSucceeded{OrderID: "ord-1"}))
		require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	})

	t.Run("anonymous queues are re-declared under fresh names", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		cm := testConn(t, broker)
		reg := NewSubscriberRegistry(cm)
		t.Cleanup(func() { reg.Close() })
		pub := NewEventPublisher(cm)

		rec := &recorder{}
		require.NoError(t, reg.Subscribe(context.Background(), "#", rec, WithoutDeadLetter()))

		broker.Drop(&amqp.Error{Code: amqp.ConnectionForced, Reason: "node restart"})
		require.Eventually(t, cm.IsConnected, time.Second, time.Millisecond)
		require.Len(t, reg.Subscriptions(), 1)

		require.NoError(t, pub.Publish(context.Background(), contracts.ProductCreated{ProductID: "prd-1"}))
		require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	})
}

func TestAcknowledgment(t *testing.T) {
	t.Run("successful handling acks the delivery", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		cm := testConn(t, broker)
		reg := NewSubscriberRegistry(cm)
		t.Cleanup(func() { reg.Close() })
		pub := NewEventPublisher(cm)

		rec := &recorder{}
		require.NoError(t, reg.Subscribe(context.Background(), "user.*", rec, WithQueue("svc.users")))
		require.NoError(t, pub.Publish(context.Background(), contracts.UserCreated{UserID: "usr-1"}))

		require.Eventually(t, func() bool { return len(broker.Acks()) == 1 }, time.Second, time.Millisecond)
		assert.True(t, broker.Acks()[0].Ack)
	})

	t.Run("handler failure acks and dead-letters instead of requeueing", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		cm := testConn(t, broker)
		reg := NewSubscriberRegistry(cm)
		t.Cleanup(func() { reg.Close() })
		pub := NewEventPublisher(cm)

		rec := &recorder{fail: errors.New("inventory lookup failed")}
		require.NoError(t, reg.Subscribe(context.Background(), "order.*", rec, WithQueue("product-service.orders")))
		require.NoError(t, pub.Publish(context.Background(), contracts.OrderCreated{OrderID: "ord-1"}))

		require.Eventually(t, func() bool { return len(broker.Acks()) == 1 }, time.Second, time.Millisecond)
		assert.True(t, broker.Acks()[0].Ack, "a failing handler must still ack")

		var deadLettered []rabbitmqtest.Published
		for _, msg := range broker.PublishedMessages() {
			if msg.Exchange == "ecommerce_events.dlx" {
				deadLettered = append(deadLettered, msg)
			}
		}
		require.Len(t, deadLettered, 1)
		assert.Equal(t, "product-service.orders", deadLettered[0].RoutingKey)
	})

	t.Run("undecodable body is rejected without requeue", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		cm := testConn(t, broker)
		reg := NewSubscriberRegistry(cm)
		t.Cleanup(func() { reg.Close() })

		rec := &recorder{}
		require.NoError(t, reg.Subscribe(context.Background(), "order.*", rec, WithQueue("svc.orders")))

		ch, err := cm.ChannelContext(context.Background())
		require.NoError(t, err)
		require.NoError(t, ch.PublishWithContext(context.Background(), "ecommerce_events", "order.created",
			false, false, amqp.Publishing{Body: []byte("not json")}))

		require.Eventually(t, func() bool { return len(broker.Acks()) == 1 }, time.Second, time.Millisecond)
		record := broker.Acks()[0]
		assert.False(t, record.Ack)
		assert.False(t, record.Requeue)
		assert.Zero(t, rec.count(), "the handler must never see a corrupt message")
	})

	t.Run("malformed payload from a typed handler is rejected without requeue", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		cm := testConn(t, broker)
		reg := NewSubscriberRegistry(cm)
		t.Cleanup(func() { reg.Close() })
		pub := NewEventPublisher(cm)

		handler := Typed(func(ctx context.Context, event contracts.OrderCreated) error {
			t.Error("handler must not run on a malformed payload")
			return nil
		})
		require.NoError(t, reg.Subscribe(context.Background(), "order.*", handler, WithQueue("svc.orders")))

		// Routing key matches but the payload shape does not.
		require.NoError(t, pub.PublishRaw(context.Background(), contracts.EventOrderCreated, map[string]int{"orderId": 7}))

		require.Eventually(t, func() bool { return len(broker.Acks()) == 1 }, time.Second, time.Millisecond)
		record := broker.Acks()[0]
		assert.False(t, record.Ack)
		assert.False(t, record.Requeue)
	})
}

func TestDeliveryOrder(t *testing.T) {
	t.Run("one queue handles deliveries in publish order", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		cm := testConn(t, broker)
		reg := NewSubscriberRegistry(cm)
		t.Cleanup(func() { reg.Close() })
		pub := NewEventPublisher(cm)

		rec := &recorder{}
		require.NoError(t, reg.Subscribe(context.Background(), "order.*", rec, WithQueue("svc.orders")))

		want := []contracts.EventType{
			contracts.EventOrderCreated,
			contracts.EventOrderUpdated,
			contracts.EventOrderPaid,
			contracts.EventOrderUpdated,
		}
		for _, et := range want {
			require.NoError(t, pub.PublishRaw(context.Background(), et, map[string]string{"orderId": "ord-1"}))
		}

		require.Eventually(t, func() bool { return rec.count() == len(want) }, time.Second, time.Millisecond)
		assert.Equal(t, want, rec.seen())
	})
}

func TestUnsubscribe(t *testing.T) {
	t.Run("stops delivery and forgets the registration", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		cm := testConn(t, broker)
		reg := NewSubscriberRegistry(cm)
		t.Cleanup(func() { reg.Close() })
		pub := NewEventPublisher(cm)

		rec := &recorder{}
		require.NoError(t, reg.Subscribe(context.Background(), "user.*", rec, WithQueue("svc.users")))
		require.NoError(t, reg.Unsubscribe(context.Background(), "svc.users"))
		assert.Empty(t, reg.Subscriptions())

		require.NoError(t, pub.Publish(context.Background(), contracts.UserCreated{UserID: "usr-1"}))
		time.Sleep(20 * time.Millisecond)
		assert.Zero(t, rec.count())
	})

	t.Run("unknown queue is an error", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		cm := testConn(t, broker)
		reg := NewSubscriberRegistry(cm)
		t.Cleanup(func() { reg.Close() })

		assert.Error(t, reg.Unsubscribe(context.Background(), "nobody-here"))
	})
}

func TestRegistryClose(t *testing.T) {
	t.Run("idempotent and refuses new subscriptions", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		cm := testConn(t, broker)
		reg := NewSubscriberRegistry(cm)

		require.NoError(t, reg.Subscribe(context.Background(), "order.*", &recorder{}, WithQueue("svc.orders")))
		require.NoError(t, reg.Close())
		require.NoError(t, reg.Close())

		assert.Error(t, reg.Subscribe(context.Background(), "user.*", &recorder{}))
	})
}
