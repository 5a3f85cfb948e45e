package rabbitmq_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopstream/eventbus-go/internal/rabbitmq/rabbitmqtest"

	. "github.com/shopstream/eventbus-go/internal/rabbitmq"
)

func testChannel(t *testing.T, broker *rabbitmqtest.Broker) Channel {
	t.Helper()
	conn, err := broker.Dialer()("amqp://localhost")
	require.NoError(t, err)
	ch, err := conn.Channel()
	require.NoError(t, err)
	return ch
}

func TestDeclareQueue(t *testing.T) {
	t.Run("named queue keeps its name", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		ch := testChannel(t, broker)

		name, err := DeclareQueue(ch, QueueSpec{Name: "order-service.payments"}, "")
		require.NoError(t, err)
		assert.Equal(t, "order-service.payments", name)
		assert.Contains(t, broker.Queues(), "order-service.payments")
	})

	t.Run("anonymous queue gets a server name", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		ch := testChannel(t, broker)

		name, err := DeclareQueue(ch, QueueSpec{}, "")
		require.NoError(t, err)
		assert.NotEmpty(t, name)
		assert.Contains(t, broker.Queues(), name)
	})

	t.Run("dead-letter spec declares and binds the companion queue", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		ch := testChannel(t, broker)
		require.NoError(t, ch.ExchangeDeclare("ecommerce_events.dlx", "direct", true, false, false, false, nil))

		name, err := DeclareQueue(ch, QueueSpec{Name: "product-service.orders", DeadLetter: true}, "ecommerce_events.dlx")
		require.NoError(t, err)
		assert.Equal(t, "product-service.orders", name)
		assert.Contains(t, broker.Queues(), "product-service.orders.dlq")
		assert.Equal(t, 1, broker.Bindings("product-service.orders.dlq"))
	})
}

func TestBindQueue(t *testing.T) {
	t.Run("binds a declared queue", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		ch := testChannel(t, broker)

		name, err := DeclareQueue(ch, QueueSpec{Name: "q"}, "")
		require.NoError(t, err)
		require.NoError(t, BindQueue(ch, name, "ecommerce_events", "order.*"))
		assert.Equal(t, 1, broker.Bindings("q"))
	})

	t.Run("binding an unknown queue is a topology error", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		ch := testChannel(t, broker)

		err := BindQueue(ch, "missing", "ecommerce_events", "#")
		require.Error(t, err)
		var topoErr *TopologyError
		assert.ErrorAs(t, err, &topoErr)
		assert.Equal(t, "binding", topoErr.Component)
	})
}
