package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps an event payload for transport. Field names match the
// wire format the services already speak: eventType routes the message,
// data carries the payload, timestamp is advisory and plays no part in
// ordering.
type Envelope struct {
	ID          string          `json:"id"`
	EventType   EventType       `json:"eventType"`
	Data        json.RawMessage `json:"data"`
	PublishedAt time.Time       `json:"timestamp"`
}

// NewEnvelope wraps a typed domain event. Serialization failures are
// reported here, before anything touches the network.
func NewEnvelope(event DomainEvent) (*Envelope, error) {
	return newEnvelope(event.Kind(), event)
}

// NewRawEnvelope wraps an arbitrary payload under an explicit routing
// key. Escape hatch for payloads outside the typed taxonomy.
func NewRawEnvelope(eventType EventType, payload any) (*Envelope, error) {
	return newEnvelope(eventType, payload)
}

func newEnvelope(eventType EventType, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("contracts: encode %s payload: %w", eventType, err)
	}
	return &Envelope{
		ID:          uuid.New().String(),
		EventType:   eventType,
		Data:        data,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("contracts: decode %s payload: %w", e.EventType, err)
	}
	return nil
}
