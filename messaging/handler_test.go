package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopstream/eventbus-go/contracts"
)

func TestTyped(t *testing.T) {
	t.Run("decodes the payload before the handler runs", func(t *testing.T) {
		var got contracts.OrderCreated
		h := Typed(func(ctx context.Context, event contracts.OrderCreated) error {
			got = event
			return nil
		})

		payload := []byte(`{"orderId":"ord-1","userId":"usr-1","totalAmount":42.5}`)
		require.NoError(t, h.Handle(context.Background(), contracts.EventOrderCreated, payload))

		assert.Equal(t, "ord-1", got.OrderID)
		assert.Equal(t, "usr-1", got.UserID)
		assert.Equal(t, 42.5, got.TotalAmount)
	})

	t.Run("reports an undecodable payload as malformed", func(t *testing.T) {
		h := Typed(func(ctx context.Context, event contracts.OrderCreated) error {
			t.Fatal("handler must not run")
			return nil
		})

		err := h.Handle(context.Background(), contracts.EventOrderCreated, json.RawMessage(`{"orderId":17}`))
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("propagates handler errors unchanged", func(t *testing.T) {
		wantErr := assert.AnError
		h := Typed(func(ctx context.Context, event contracts.PaymentFailed) error {
			return wantErr
		})

		err := h.Handle(context.Background(), contracts.EventPaymentFailed, json.RawMessage(`{}`))
		assert.ErrorIs(t, err, wantErr)
		assert.NotErrorIs(t, err, ErrMalformedPayload)
	})
}
