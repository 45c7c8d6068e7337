package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/commercemesh/core"
)

// Mock is an in-memory Provider for tests and local runs. Links are
// deterministic per order; statuses can be scripted with SetStatus.
type Mock struct {
	mu        sync.Mutex
	statuses  map[string]core.OrderStatus
	linkErr   error
	statusErr error
	calls     []string
}

// NewMock constructs a Mock provider.
func NewMock() *Mock {
	return &Mock{statuses: make(map[string]core.OrderStatus)}
}

// SetStatus scripts the status returned for an order id.
func (m *Mock) SetStatus(orderID string, status core.OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[orderID] = status
}

// FailLinksWith makes CreatePaymentLink return err until reset with nil.
func (m *Mock) FailLinksWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linkErr = err
}

// FailStatusWith makes CheckStatus return err until reset with nil.
func (m *Mock) FailStatusWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusErr = err
}

// Calls returns the order ids passed to CreatePaymentLink, in order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Mock) CreatePaymentLink(_ context.Context, o *core.Order) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, o.ID)
	if m.linkErr != nil {
		return "", m.linkErr
	}
	return fmt.Sprintf("https://pay.example.com/checkout/%s", o.ID), nil
}

func (m *Mock) CheckStatus(_ context.Context, o *core.Order) (core.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statusErr != nil {
		return "", m.statusErr
	}
	if status, ok := m.statuses[o.ID]; ok {
		return status, nil
	}
	return o.Status, nil
}
