package contracts

// EventType identifies a domain event on the wire. The set is closed:
// producers and consumers share these constants instead of spelling
// routing keys by hand, so the two sides cannot drift.
type EventType string

const (
	EventUserCreated EventType = "user.created"
	EventUserUpdated EventType = "user.updated"

	EventProductCreated EventType = "product.created"
	EventProductUpdated EventType = "product.updated"

	EventOrderCreated EventType = "order.created"
	EventOrderUpdated EventType = "order.updated"
	EventOrderPaid    EventType = "order.paid"

	EventPaymentCreated   EventType = "payment.created"
	EventPaymentSucceeded EventType = "payment.success"
	EventPaymentFailed    EventType = "payment.failed"
)

// eventTypes is the registry of known event types.
var eventTypes = map[EventType]struct{}{
	EventUserCreated:      {},
	EventUserUpdated:      {},
	EventProductCreated:   {},
	EventProductUpdated:   {},
	EventOrderCreated:     {},
	EventOrderUpdated:     {},
	EventOrderPaid:        {},
	EventPaymentCreated:   {},
	EventPaymentSucceeded: {},
	EventPaymentFailed:    {},
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

func (t EventType) String() string {
	return string(t)
}

// DomainEvent is implemented by every event payload. Kind binds the
// payload shape to its routing key at compile time.
type DomainEvent interface {
	Kind() EventType
}

// OrderItem is a single line of an order.
type OrderItem struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price,omitempty"`
}

// OrderCreated is published by the order service after an order is
// committed locally. The product service decrements inventory from it,
// the payment service opens a pending payment.
type OrderCreated struct {
	OrderID       string      `json:"orderId"`
	UserID        string      `json:"userId"`
	Items         []OrderItem `json:"items"`
	TotalAmount   float64     `json:"totalAmount"`
	PaymentMethod string      `json:"paymentMethod"`
}

func (OrderCreated) Kind() EventType { return EventOrderCreated }

// OrderUpdated signals a status change on an existing order.
type OrderUpdated struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

func (OrderUpdated) Kind() EventType { return EventOrderUpdated }

// OrderPaid signals that an order reached the paid state.
type OrderPaid struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
}

func (OrderPaid) Kind() EventType { return EventOrderPaid }

// PaymentCreated is published when a pending payment record is opened.
type PaymentCreated struct {
	PaymentID string  `json:"paymentId"`
	OrderID   string  `json:"orderId"`
	Amount    float64 `json:"amount"`
}

func (PaymentCreated) Kind() EventType { return EventPaymentCreated }

// PaymentSucceeded is published by the payment service after the
// provider accepts a charge. The order service marks the order paid.
type PaymentSucceeded struct {
	OrderID       string `json:"orderId"`
	PaymentID     string `json:"paymentId"`
	TransactionID string `json:"transactionId"`
}

func (PaymentSucceeded) Kind() EventType { return EventPaymentSucceeded }

// PaymentFailed is published when the provider rejects a charge. The
// order service cancels the order.
type PaymentFailed struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

func (PaymentFailed) Kind() EventType { return EventPaymentFailed }

// ProductCreated announces a new catalog entry.
type ProductCreated struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

func (ProductCreated) Kind() EventType { return EventProductCreated }

// ProductUpdated announces an inventory or catalog change. Action is
// "created", "updated", or "inventory".
type ProductUpdated struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	InStock   bool   `json:"inStock"`
	Quantity  int    `json:"quantity"`
	Action    string `json:"action,omitempty"`
}

func (ProductUpdated) Kind() EventType { return EventProductUpdated }

// UserCreated announces a new account. No in-scope service consumes it
// today; the key is reserved for analytics consumers.
type UserCreated struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
}

func (UserCreated) Kind() EventType { return EventUserCreated }

// UserUpdated announces a profile change.
type UserUpdated struct {
	UserID string `json:"userId"`
}

func (UserUpdated) Kind() EventType { return EventUserUpdated }
