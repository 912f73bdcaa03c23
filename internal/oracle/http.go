package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// HTTPLedger implements LedgerClient against a REST ledger service.
// Requests are throttled so a fast heartbeat cannot exhaust the API quota.
type HTTPLedger struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPLedger creates a ledger client throttled to rps requests per second.
func NewHTTPLedger(baseURL, apiKey string, rps float64) *HTTPLedger {
	if rps <= 0 {
		rps = 2
	}
	return &HTTPLedger{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (l *HTTPLedger) Name() string { return "http-ledger" }

func (l *HTTPLedger) GetHoldings(ctx context.Context) (Holdings, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Holdings{}, err
	}
	var result struct {
		Primary      float64 `json:"primary_amount"`
		Stable       float64 `json:"stable_amount"`
		PrimaryPrice float64 `json:"primary_price_usd"`
		QuotedAt     int64   `json:"quoted_at"` // unix seconds, optional
	}
	if err := l.getJSON(ctx, l.BaseURL+"/api/v1/balance", &result); err != nil {
		return Holdings{}, err
	}
	h := Holdings{
		PrimaryAmount:   result.Primary,
		StableAmount:    result.Stable,
		PrimaryPriceUSD: result.PrimaryPrice,
	}
	if result.QuotedAt > 0 {
		h.QuotedAt = time.Unix(result.QuotedAt, 0)
	}
	return h, nil
}

func (l *HTTPLedger) Transfer(ctx context.Context, amountUSD float64, destination string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	payload, err := json.Marshal(map[string]interface{}{
		"amount_usd":  amountUSD,
		"destination": destination,
	})
	if err != nil {
		return "", fmt.Errorf("marshal transfer: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.BaseURL+"/api/v1/transfer", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if l.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.APIKey)
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit transfer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("submit transfer: status %d, body: %s", resp.StatusCode, string(body))
	}
	var result struct {
		ReceiptID string `json:"receipt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode receipt: %w", err)
	}
	return result.ReceiptID, nil
}

func (l *HTTPLedger) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if l.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.APIKey)
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("fetch %s: status %d, body: %s", endpoint, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

// HTTPCredit reads the operational credit balance from a REST endpoint.
type HTTPCredit struct {
	URL    string
	APIKey string
	Client *http.Client
}

// NewHTTPCredit creates a credit reader.
func NewHTTPCredit(url, apiKey string) *HTTPCredit {
	return &HTTPCredit{
		URL:    url,
		APIKey: apiKey,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPCredit) GetCredit(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return 0, err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch credit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch credit: status %d", resp.StatusCode)
	}
	var result struct {
		Credit float64 `json:"credit"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode credit: %w", err)
	}
	return result.Credit, nil
}
