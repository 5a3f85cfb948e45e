package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopstream/eventbus-go/contracts"
)

// ErrMalformedPayload marks a delivery whose payload cannot be decoded.
// The registry rejects such messages without requeue instead of
// retrying corrupt data forever.
var ErrMalformedPayload = errors.New("messaging: malformed payload")

// Handler processes a delivered event. Handlers run on a messaging
// goroutine, one delivery at a time per queue, and must be idempotent:
// a message in flight during a reconnect can be delivered again.
type Handler interface {
	Handle(ctx context.Context, eventType contracts.EventType, payload json.RawMessage) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, eventType contracts.EventType, payload json.RawMessage) error

func (f HandlerFunc) Handle(ctx context.Context, eventType contracts.EventType, payload json.RawMessage) error {
	return f(ctx, eventType, payload)
}

// Typed adapts a strongly typed handler to the Handler interface. The
// payload is decoded into T before the handler runs; a payload that
// does not decode is reported as malformed.
func Typed[T contracts.DomainEvent](fn func(ctx context.Context, event T) error) Handler {
	return HandlerFunc(func(ctx context.Context, eventType contracts.EventType, payload json.RawMessage) error {
		var event T
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("%w: decode %s: %v", ErrMalformedPayload, eventType, err)
		}
		return fn(ctx, event)
	})
}
