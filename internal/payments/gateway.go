package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gvmbt/pvndora-shop/internal/money"
)

// Invoice states reported by the gateway.
const (
	InvoicePaid    = "paid"
	InvoicePending = "pending"
	InvoiceFailed  = "failed"
)

// ErrUnavailable means the gateway could not be reached or answered with a
// server error. Callers retry with backoff and, if retries run out, roll the
// order back rather than leaving it payment-less.
var ErrUnavailable = errors.New("payments: gateway unavailable")

// Handle is the gateway's reference to a created payment.
type Handle struct {
	Reference string `json:"reference"`
	URL       string `json:"url"`
}

// Gateway is the black-box payment capability. Request signing and other
// gateway-specific schemes live behind the implementation.
type Gateway interface {
	// CreatePayment registers a payment keyed by the order's own identifier,
	// so the gateway deduplicates retried calls naturally.
	CreatePayment(ctx context.Context, orderID int64, amount money.Money, currency, method string) (Handle, error)
	GetInvoiceState(ctx context.Context, handle string) (string, error)
}

// HTTPGateway talks JSON to the payment provider.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type createPaymentRequest struct {
	OrderID  int64       `json:"orderId"`
	Amount   money.Money `json:"amount"`
	Currency string      `json:"currency"`
	Method   string      `json:"method"`
}

func (g *HTTPGateway) CreatePayment(ctx context.Context, orderID int64, amount money.Money, currency, method string) (Handle, error) {
	body, err := json.Marshal(createPaymentRequest{
		OrderID:  orderID,
		Amount:   amount,
		Currency: currency,
		Method:   method,
	})
	if err != nil {
		return Handle{}, fmt.Errorf("payments: encode create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return Handle{}, fmt.Errorf("payments: build create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Handle{}, fmt.Errorf("payments: create payment for order %d: %w", orderID, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Handle{}, fmt.Errorf("payments: gateway status %d: %w", resp.StatusCode, ErrUnavailable)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Handle{}, fmt.Errorf("payments: gateway rejected order %d with status %d", orderID, resp.StatusCode)
	}

	var h Handle
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Handle{}, fmt.Errorf("payments: decode create response: %w", err)
	}
	return h, nil
}

type invoiceStateResponse struct {
	State string `json:"state"`
}

func (g *HTTPGateway) GetInvoiceState(ctx context.Context, handle string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/payments/"+handle, nil)
	if err != nil {
		return "", fmt.Errorf("payments: build state request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("payments: invoice state for %s: %w", handle, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("payments: gateway status %d: %w", resp.StatusCode, ErrUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("payments: unexpected status %d for invoice %s", resp.StatusCode, handle)
	}

	var out invoiceStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("payments: decode state response: %w", err)
	}
	switch out.State {
	case InvoicePaid, InvoicePending, InvoiceFailed:
		return out.State, nil
	default:
		return "", fmt.Errorf("payments: unknown invoice state %q", out.State)
	}
}
