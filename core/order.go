package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPending marks an order awaiting payment.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid marks a paid order.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped marks an order handed to fulfilment.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered marks a delivered order.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled marks a cancelled order.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Order is an immutable snapshot of cart lines at creation time. Once
// created, the line snapshot never changes; later catalog price changes do
// not retroactively affect it. Status and PaymentRef are the only mutable
// fields.
type Order struct {
	ID         string          `json:"id"`
	DialogID   string          `json:"dialog_id"`
	SenderID   string          `json:"sender_id"`
	Lines      []CartLine      `json:"lines"`
	Total      decimal.Decimal `json:"total"`
	Status     OrderStatus     `json:"status"`
	PaymentRef string          `json:"payment_ref,omitempty"`
	Created    time.Time       `json:"created"`
	Updated    time.Time       `json:"updated"`
}

// orderNamespace scopes order ids derived from platform message ids.
var orderNamespace = uuid.MustParse("5f0f6c4e-9f8a-4c52-8f2d-3fa36a1f9b0d")

// OrderIDFor derives a stable order id from the platform message id of the
// event that placed the order. A redelivered event therefore addresses the
// same order row instead of creating a second one. An empty event id falls
// back to a random id.
func OrderIDFor(eventID string) string {
	if eventID == "" {
		return NewID()
	}
	return uuid.NewSHA1(orderNamespace, []byte(eventID)).String()
}

// NewOrderFromCart snapshots the dialog's cart lines into a pending order.
// The caller is responsible for rejecting empty carts and clearing the cart
// afterwards; this constructor only copies and totals.
func NewOrderFromCart(d *Dialog) *Order {
	lines := d.CartLines()
	snapshot := make([]CartLine, len(lines))
	copy(snapshot, lines)

	total := decimal.Zero
	for _, l := range snapshot {
		total = total.Add(l.Subtotal())
	}

	now := time.Now().UTC()
	return &Order{
		ID:       NewID(),
		DialogID: d.ID,
		SenderID: d.SenderID,
		Lines:    snapshot,
		Total:    total,
		Status:   OrderStatusPending,
		Created:  now,
		Updated:  now,
	}
}
