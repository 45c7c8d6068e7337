package commerce

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/commercemesh/core"
	"github.com/hupe1980/commercemesh/store"
)

// InMemoryCatalog is a map-backed Catalog for tests and local runs.
type InMemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]store.Product
}

// NewInMemoryCatalog constructs an empty in-memory catalog.
func NewInMemoryCatalog() *InMemoryCatalog {
	return &InMemoryCatalog{products: make(map[string]store.Product)}
}

// Put inserts or replaces a product.
func (c *InMemoryCatalog) Put(p store.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

// SearchProducts matches query case-insensitively against name and
// description, optionally filtered by category.
func (c *InMemoryCatalog) SearchProducts(_ context.Context, query, category string, limit int) ([]store.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q := strings.ToLower(query)
	var out []store.Product
	for _, p := range c.products {
		if category != "" && p.Category != category {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(p.Name), q) && !strings.Contains(strings.ToLower(p.Description), q) {
			continue
		}
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

// GetProduct returns the product or a not-found resource error.
func (c *InMemoryCatalog) GetProduct(_ context.Context, productID string) (*store.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[productID]
	if !ok {
		return nil, core.NotFound("product", productID)
	}
	cp := p
	return &cp, nil
}

// InMemoryOrders is a map-backed Orders for tests and local runs.
type InMemoryOrders struct {
	mu     sync.RWMutex
	orders map[string]core.Order
}

// NewInMemoryOrders constructs an empty in-memory order store.
func NewInMemoryOrders() *InMemoryOrders {
	return &InMemoryOrders{orders: make(map[string]core.Order)}
}

// CreateOrder stores a copy of the order.
func (s *InMemoryOrders) CreateOrder(_ context.Context, o *core.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

// GetOrder returns a copy of the order or a not-found resource error.
func (s *InMemoryOrders) GetOrder(_ context.Context, orderID string) (*core.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, core.NotFound("order", orderID)
	}
	cp := cloneOrder(&o)
	return &cp, nil
}

// UpdateOrder replaces the stored order's mutable fields.
func (s *InMemoryOrders) UpdateOrder(_ context.Context, o *core.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[o.ID]
	if !ok {
		return core.NotFound("order", o.ID)
	}
	stored.Status = o.Status
	stored.PaymentRef = o.PaymentRef
	stored.Updated = o.Updated
	s.orders[o.ID] = stored
	return nil
}

// Len returns the number of stored orders.
func (s *InMemoryOrders) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

func cloneOrder(o *core.Order) core.Order {
	cp := *o
	cp.Lines = make([]core.CartLine, len(o.Lines))
	copy(cp.Lines, o.Lines)
	return cp
}
