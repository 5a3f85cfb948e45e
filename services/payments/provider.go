package payments

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// ErrChargeDeclined is what a provider returns when the gateway refuses
// the charge.
var ErrChargeDeclined = errors.New("payments: charge declined")

// Provider charges a payment with an external gateway and returns the
// gateway's transaction ID.
type Provider interface {
	Charge(ctx context.Context, payment *Payment) (transactionID string, err error)
}

// SimulatedProvider stands in for a real gateway: it approves a
// configurable fraction of charges and mints transaction IDs locally.
type SimulatedProvider struct {
	// SuccessRate is the fraction of charges approved, in [0, 1].
	SuccessRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedProvider creates a provider approving the given fraction
// of charges with the given seed.
func NewSimulatedProvider(successRate float64, seed int64) *SimulatedProvider {
	return &SimulatedProvider{
		SuccessRate: successRate,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (p *SimulatedProvider) Charge(ctx context.Context, payment *Payment) (string, error) {
	p.mu.Lock()
	roll := p.rng.Float64()
	p.mu.Unlock()
	if roll >= p.SuccessRate {
		return "", ErrChargeDeclined
	}
	return uuid.NewString(), nil
}
