package contracts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType(t *testing.T) {
	t.Run("known types are valid", func(t *testing.T) {
		for et := range eventTypes {
			assert.True(t, et.Valid(), "expected %s to be valid", et)
		}
	})

	t.Run("unknown type is invalid", func(t *testing.T) {
		assert.False(t, EventType("order.exploded").Valid())
		assert.False(t, EventType("").Valid())
	})

	t.Run("every payload kind is registered", func(t *testing.T) {
		events := []DomainEvent{
			UserCreated{}, UserUpdated{},
			ProductCreated{}, ProductUpdated{},
			OrderCreated{}, OrderUpdated{}, OrderPaid{},
			PaymentCreated{}, PaymentSucceeded{}, PaymentFailed{},
		}
		for _, e := range events {
			assert.True(t, e.Kind().Valid(), "kind %s not registered", e.Kind())
		}
	})
}

func TestEnvelope(t *testing.T) {
	t.Run("NewEnvelope carries kind and payload", func(t *testing.T) {
		env, err := NewEnvelope(OrderCreated{
			OrderID:       "o1",
			UserID:        "u1",
			Items:         []OrderItem{{ProductID: "p1", Quantity: 2}},
			TotalAmount:   40,
			PaymentMethod: "credit_card",
		})
		require.NoError(t, err)

		assert.NotEmpty(t, env.ID)
		assert.Equal(t, EventOrderCreated, env.EventType)
		assert.False(t, env.PublishedAt.IsZero())

		var got OrderCreated
		require.NoError(t, env.Decode(&got))
		assert.Equal(t, "o1", got.OrderID)
		assert.Len(t, got.Items, 1)
		assert.Equal(t, 2, got.Items[0].Quantity)
	})

	t.Run("NewRawEnvelope rejects unencodable payload", func(t *testing.T) {
		_, err := NewRawEnvelope(EventOrderCreated, func() {})
		assert.Error(t, err)
	})

	t.Run("wire format uses the agreed field names", func(t *testing.T) {
		env, err := NewEnvelope(PaymentFailed{OrderID: "o1", Reason: "declined"})
		require.NoError(t, err)

		raw, err := json.Marshal(env)
		require.NoError(t, err)

		var fields map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(raw, &fields))
		assert.Contains(t, fields, "eventType")
		assert.Contains(t, fields, "data")
		assert.Contains(t, fields, "timestamp")
	})

	t.Run("Decode surfaces malformed payload", func(t *testing.T) {
		env := &Envelope{EventType: EventOrderCreated, Data: json.RawMessage(`{not json`)}
		var got OrderCreated
		assert.Error(t, env.Decode(&got))
	})
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		key     EventType
		want    bool
	}{
		{"order.created", EventOrderCreated, true},
		{"order.created", EventOrderUpdated, false},
		{"order.*", EventOrderCreated, true},
		{"order.*", EventPaymentFailed, false},
		{"payment.*", EventPaymentSucceeded, true},
		{"#", EventOrderCreated, true},
		{"#", EventType("a.b.c.d"), true},
		{"order.#", EventOrderCreated, true},
		{"order.#", EventType("order"), true},
		{"*.created", EventOrderCreated, true},
		{"*.created", EventUserCreated, true},
		{"*.created", EventPaymentFailed, false},
		{"*", EventOrderCreated, false},
		{"order", EventOrderCreated, false},
		{"#.created", EventOrderCreated, true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+string(tt.key), func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTopic(tt.pattern, tt.key))
		})
	}
}
