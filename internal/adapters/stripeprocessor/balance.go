package stripeprocessor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/internal/provider"
	"github.com/hustlexp/moneycore/internal/recovery"
)

var _ recovery.BalanceFetcher = (*Client)(nil)

// FetchRecent lists balance transactions created at or after since,
// implementing internal/recovery.BalanceFetcher for the Reconciler
// (spec.md §4.4).
func (c *Client) FetchRecent(ctx context.Context, since time.Time) ([]domain.ProviderBalanceMirror, error) {
	query := url.Values{
		"created[gte]": {strconv.FormatInt(since.Unix(), 10)},
		"limit":        {"100"},
	}

	var resp struct {
		Data []struct {
			ID                string `json:"id"`
			Amount            int64  `json:"amount"`
			Currency          string `json:"currency"`
			Type              string `json:"type"`
			Status            string `json:"status"`
			AvailableOn       int64  `json:"available_on"`
			Created           int64  `json:"created"`
			ReportingCategory string `json:"reporting_category"`
			Source            string `json:"source"`
			Description       string `json:"description"`
		} `json:"data"`
	}

	if err := c.get(ctx, "/v1/balance_transactions", query, &resp); err != nil {
		return nil, err
	}

	rows := make([]domain.ProviderBalanceMirror, 0, len(resp.Data))
	for _, d := range resp.Data {
		rows = append(rows, domain.ProviderBalanceMirror{
			ID:                d.ID,
			Amount:            d.Amount,
			Currency:          domain.Currency(d.Currency),
			Type:              d.Type,
			Status:            d.Status,
			AvailableOn:       time.Unix(d.AvailableOn, 0).UTC(),
			Created:           time.Unix(d.Created, 0).UTC(),
			ReportingCategory: d.ReportingCategory,
			SourceID:          d.Source,
			Description:       d.Description,
		})
	}

	return rows, nil
}

// get issues a GET request with query parameters, the read-side
// counterpart to Client.do (which always POSTs a form body).
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return &provider.Error{Class: provider.NonRetryable, Code: "request_build_failed", Message: "build request", Err: err}
	}

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

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &provider.Error{Class: provider.Retryable, Code: "decode_failed", Message: "decode processor response", Err: err}
	}

	return nil
}
