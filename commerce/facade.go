// Package commerce implements the shopping operations behind the assistant's
// tools: catalog search, cart manipulation, order creation and payment.
// Every operation takes the dialog from the tool context, so cart state
// always belongs to exactly one sender.
package commerce

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hupe1980/commercemesh/core"
	"github.com/hupe1980/commercemesh/store"
)

// Catalog is the read side of the product catalog.
type Catalog interface {
	SearchProducts(ctx context.Context, query, category string, limit int) ([]store.Product, error)
	GetProduct(ctx context.Context, productID string) (*store.Product, error)
}

// Orders persists and retrieves orders.
type Orders interface {
	CreateOrder(ctx context.Context, o *core.Order) error
	GetOrder(ctx context.Context, orderID string) (*core.Order, error)
	UpdateOrder(ctx context.Context, o *core.Order) error
}

// PaymentProvider issues payment links and reports payment state for orders.
type PaymentProvider interface {
	CreatePaymentLink(ctx context.Context, o *core.Order) (string, error)
	CheckStatus(ctx context.Context, o *core.Order) (core.OrderStatus, error)
}

const defaultSearchLimit = 10

// Facade bundles the commerce operations exposed to the reasoning engine.
type Facade struct {
	catalog  Catalog
	orders   Orders
	payments PaymentProvider
}

// NewFacade constructs a Facade over catalog, order storage and payments.
func NewFacade(catalog Catalog, orders Orders, payments PaymentProvider) *Facade {
	return &Facade{
		catalog:  catalog,
		orders:   orders,
		payments: payments,
	}
}

// SearchProducts queries the catalog. An empty result is a valid answer, not
// an error.
func (f *Facade) SearchProducts(ctx context.Context, query, category string, limit int) ([]store.Product, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return f.catalog.SearchProducts(ctx, query, category, limit)
}

// GetProductDetails fetches a single product by id.
func (f *Facade) GetProductDetails(ctx context.Context, productID string) (*store.Product, error) {
	return f.catalog.GetProduct(ctx, productID)
}

// CartView is the cart payload returned to the engine after cart operations.
type CartView struct {
	Items []core.CartLine `json:"items"`
	Total decimal.Decimal `json:"total"`
}

func cartView(d *core.Dialog) CartView {
	return CartView{
		Items: d.CartLines(),
		Total: d.CartTotal(),
	}
}

// AddToCart resolves the product and merges quantity into the dialog's cart.
// The line keeps the unit price seen on first addition.
func (f *Facade) AddToCart(ctx context.Context, d *core.Dialog, productID string, quantity int) (CartView, error) {
	if quantity <= 0 {
		quantity = 1
	}

	p, err := f.catalog.GetProduct(ctx, productID)
	if err != nil {
		return CartView{}, err
	}

	d.AddToCart(p.ID, p.Name, quantity, p.Price)

	return cartView(d), nil
}

// ViewCart returns the current cart contents and total.
func (f *Facade) ViewCart(_ context.Context, d *core.Dialog) CartView {
	return cartView(d)
}

// RemoveFromCart removes quantity units of the product from the cart. A
// quantity of zero or one at or above the line count removes the line.
func (f *Facade) RemoveFromCart(_ context.Context, d *core.Dialog, productID string, quantity int) (CartView, error) {
	if !d.RemoveFromCart(productID, quantity) {
		return CartView{}, core.NotFound("cart item", productID)
	}
	return cartView(d), nil
}

// CreateOrder snapshots the cart into a pending order, persists it and clears
// the cart. An empty cart is a validation error the engine can relay.
//
// The order id is derived from eventID, so a redelivered event that replays
// the whole tool loop finds the order written by the first pass instead of
// committing a second one.
func (f *Facade) CreateOrder(ctx context.Context, d *core.Dialog, eventID string) (*core.Order, error) {
	if len(d.CartLines()) == 0 {
		return nil, core.Validation("cart is empty")
	}

	id := core.OrderIDFor(eventID)

	existing, err := f.orders.GetOrder(ctx, id)
	if err == nil {
		d.ClearCart()
		return existing, nil
	}
	if !core.IsNotFound(err) {
		return nil, err
	}

	order := core.NewOrderFromCart(d)
	order.ID = id
	if err := f.orders.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	d.ClearCart()

	return order, nil
}

// PaymentLink is the payload returned by GetPaymentLink.
type PaymentLink struct {
	PaymentLink string      `json:"payment_link"`
	Order       *core.Order `json:"order"`
}

// GetPaymentLink issues a payment link for the order and records the payment
// reference on it.
func (f *Facade) GetPaymentLink(ctx context.Context, orderID string) (PaymentLink, error) {
	order, err := f.orders.GetOrder(ctx, orderID)
	if err != nil {
		return PaymentLink{}, err
	}

	link, err := f.payments.CreatePaymentLink(ctx, order)
	if err != nil {
		return PaymentLink{}, err
	}

	if order.PaymentRef != link {
		order.PaymentRef = link
		if err := f.orders.UpdateOrder(ctx, order); err != nil {
			return PaymentLink{}, err
		}
	}

	return PaymentLink{PaymentLink: link, Order: order}, nil
}

// CheckOrderStatus refreshes the order's status from the payment provider and
// persists any change.
func (f *Facade) CheckOrderStatus(ctx context.Context, orderID string) (*core.Order, error) {
	order, err := f.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	status, err := f.payments.CheckStatus(ctx, order)
	if err != nil {
		// A transient provider error propagates so the worker can route the
		// event to redelivery instead of answering from stale state.
		return nil, fmt.Errorf("check payment status: %w", err)
	}

	if status.Valid() && status != order.Status {
		order.Status = status
		if err := f.orders.UpdateOrder(ctx, order); err != nil {
			return nil, fmt.Errorf("update order status: %w", err)
		}
	}

	return order, nil
}
