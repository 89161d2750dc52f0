// Package stripeprocessor is the concrete internal/provider.Processor
// implementation against a Stripe-shaped REST API, grounded on the
// functional-options constructor shape of the payoutd processor example.
// There is no third-party HTTP client in the retrieval pack grounded on an
// outbound REST integration; net/http is used directly here (recorded in
// DESIGN.md) rather than reaching for an unrelated ungrounded dependency.
package stripeprocessor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hustlexp/moneycore/internal/provider"
	"github.com/hustlexp/moneycore/pkg/mlog"
)

// Client talks to the processor's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     mlog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client (timeouts, transport).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithLogger attaches a logger for request-failure diagnostics.
func WithLogger(l mlog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New constructs a Client against baseURL, authenticating with apiKey.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

var _ provider.Processor = (*Client)(nil)

func (c *Client) CreateHold(ctx context.Context, idempotencyKey string, amountCents int64, paymentMethodID string, metadata map[string]string) (*provider.Hold, error) {
	form := url.Values{
		"amount":               {strconv.FormatInt(amountCents, 10)},
		"currency":             {"usd"},
		"payment_method":       {paymentMethodID},
		"capture_method":       {"manual"},
		"confirm":              {"true"},
	}

	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}

	var resp struct {
		ID       string `json:"id"`
		ChargeID string `json:"latest_charge"`
	}

	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", idempotencyKey, form, &resp); err != nil {
		return nil, err
	}

	return &provider.Hold{PaymentIntentID: resp.ID, ChargeID: resp.ChargeID}, nil
}

func (c *Client) Capture(ctx context.Context, idempotencyKey, paymentIntentID string) error {
	path := fmt.Sprintf("/v1/payment_intents/%s/capture", paymentIntentID)
	return c.do(ctx, http.MethodPost, path, idempotencyKey, nil, nil)
}

func (c *Client) Transfer(ctx context.Context, idempotencyKey string, amountCents int64, destinationAccount, sourceCharge, transferGroup string) (*provider.Transfer, error) {
	form := url.Values{
		"amount":             {strconv.FormatInt(amountCents, 10)},
		"currency":           {"usd"},
		"destination":        {destinationAccount},
		"source_transaction": {sourceCharge},
		"transfer_group":     {transferGroup},
	}

	var resp struct {
		ID string `json:"id"`
	}

	if err := c.do(ctx, http.MethodPost, "/v1/transfers", idempotencyKey, form, &resp); err != nil {
		return nil, err
	}

	return &provider.Transfer{TransferID: resp.ID}, nil
}

func (c *Client) Cancel(ctx context.Context, idempotencyKey, paymentIntentID, reason string) error {
	path := fmt.Sprintf("/v1/payment_intents/%s/cancel", paymentIntentID)
	form := url.Values{"cancellation_reason": {reason}}

	return c.do(ctx, http.MethodPost, path, idempotencyKey, form, nil)
}

func (c *Client) ReverseTransfer(ctx context.Context, idempotencyKey, transferID string, amountCents int64) (*provider.Reversal, error) {
	path := fmt.Sprintf("/v1/transfers/%s/reversals", transferID)
	form := url.Values{"amount": {strconv.FormatInt(amountCents, 10)}}

	var resp struct {
		ID string `json:"id"`
	}

	if err := c.do(ctx, http.MethodPost, path, idempotencyKey, form, &resp); err != nil {
		return nil, err
	}

	return &provider.Reversal{ReversalID: resp.ID}, nil
}

func (c *Client) Refund(ctx context.Context, idempotencyKey, paymentIntentID string, amountCents int64) (*provider.Refund, error) {
	form := url.Values{
		"payment_intent": {paymentIntentID},
		"amount":         {strconv.FormatInt(amountCents, 10)},
	}

	var resp struct {
		ID string `json:"id"`
	}

	if err := c.do(ctx, http.MethodPost, "/v1/refunds", idempotencyKey, form, &resp); err != nil {
		return nil, err
	}

	return &provider.Refund{RefundID: resp.ID}, nil
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, form url.Values, out any) error {
	var body bytes.Buffer
	if form != nil {
		body.WriteString(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &body)
	if err != nil {
		return &provider.Error{Class: provider.NonRetryable, Code: "request_build_failed", Message: "build request", Err: err}
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	req.SetBasicAuth(c.apiKey, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &provider.Error{Class: provider.Retryable, Code: "transport_error", Message: "processor request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &provider.Error{Class: provider.Retryable, Code: "processor_5xx", Message: fmt.Sprintf("processor returned %d", resp.StatusCode)}
	}

	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests {
		return &provider.Error{Class: provider.Retryable, Code: "processor_throttled", Message: fmt.Sprintf("processor returned %d", resp.StatusCode)}
	}

	if resp.StatusCode == http.StatusForbidden {
		return &provider.Error{Class: provider.Terminal, Code: "account_disabled", Message: "processor account disabled"}
	}

	if resp.StatusCode >= 400 {
		return &provider.Error{Class: provider.NonRetryable, Code: "processor_4xx", Message: fmt.Sprintf("processor rejected request: %d", resp.StatusCode)}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &provider.Error{Class: provider.Retryable, Code: "decode_failed", Message: "decode processor response", Err: err}
	}

	return nil
}
