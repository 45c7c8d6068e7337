// Package payment integrates an external payment provider: issuing payment
// links for pending orders and polling payment state.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hupe1980/commercemesh/core"
	"github.com/hupe1980/commercemesh/logging"
)

// Provider issues payment links and reports payment state for orders.
type Provider interface {
	CreatePaymentLink(ctx context.Context, o *core.Order) (string, error)
	CheckStatus(ctx context.Context, o *core.Order) (core.OrderStatus, error)
}

// HTTPProviderOptions configures an HTTPProvider.
type HTTPProviderOptions struct {
	// BaseURL is the provider API root, e.g. "https://pay.example.com".
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
	Logger     logging.Logger
}

// HTTPProvider talks JSON over HTTP to a payment service. Network errors and
// server-side failures surface as transient errors so the event unwinds to
// the redelivery path instead of confusing the customer.
type HTTPProvider struct {
	opts   HTTPProviderOptions
	client *http.Client
	logger logging.Logger
}

// NewHTTPProvider constructs an HTTPProvider.
func NewHTTPProvider(optFns ...func(o *HTTPProviderOptions)) *HTTPProvider {
	opts := HTTPProviderOptions{
		Timeout: 10 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &HTTPProvider{
		opts:   opts,
		client: client,
		logger: logging.NonNil(opts.Logger),
	}
}

type paymentLinkResponse struct {
	PaymentLink string `json:"payment_link"`
}

type paymentStatusResponse struct {
	Status string `json:"status"`
}

// CreatePaymentLink requests a payment link for the order's total.
func (p *HTTPProvider) CreatePaymentLink(ctx context.Context, o *core.Order) (string, error) {
	body, err := json.Marshal(map[string]any{
		"order_id": o.ID,
		"amount":   o.Total,
		"currency": "USD",
	})
	if err != nil {
		return "", core.Fatal("payment.create_link", err)
	}

	var out paymentLinkResponse
	if err := p.do(ctx, http.MethodPost, "/v1/payment-links", bytes.NewReader(body), &out); err != nil {
		return "", err
	}
	if out.PaymentLink == "" {
		return "", core.Transient("payment.create_link", fmt.Errorf("provider returned empty payment link for order %s", o.ID))
	}

	p.logger.Debug("payment.link_created", "order_id", o.ID)

	return out.PaymentLink, nil
}

// CheckStatus polls the provider for the order's payment state.
func (p *HTTPProvider) CheckStatus(ctx context.Context, o *core.Order) (core.OrderStatus, error) {
	path := "/v1/payment-links/" + url.PathEscape(o.ID)

	var out paymentStatusResponse
	if err := p.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}

	status := core.OrderStatus(out.Status)
	if !status.Valid() {
		return "", core.Transient("payment.check_status", fmt.Errorf("provider returned unknown status %q", out.Status))
	}

	return status, nil
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, p.opts.BaseURL+path, body)
	if err != nil {
		return core.Fatal("payment.request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.opts.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return core.Transient("payment.request", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return core.NotFound("payment order", path)
	case resp.StatusCode >= 500:
		return core.Transient("payment.request", fmt.Errorf("provider returned status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return core.Fatal("payment.request", fmt.Errorf("provider rejected request with status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return core.Transient("payment.decode", err)
	}

	return nil
}
