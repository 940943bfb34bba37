// Package processor talks to the payment gateway's transaction API. The
// gateway is treated as opaque: create a transaction, read it back.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bookflow/internal/config"
	"bookflow/internal/models"
)

var ErrTransactionNotFound = errors.New("transaction not found")

type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

func NewClient(cfg config.ProcessorConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type captureRequest struct {
	Amount   string            `json:"amount"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Capture asks the gateway to create a transaction for amount.
func (c *Client) Capture(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("capture amount must be positive, got %s", amount)
	}
	body, err := json.Marshal(captureRequest{Amount: amount.StringFixed(models.MoneyPlaces), Metadata: metadata})
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, "/transactions", bytes.NewReader(body))
}

// GetTransaction reads the authoritative state of a transaction.
func (c *Client) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	if id == "" {
		return nil, errors.New("transaction id is required")
	}
	return c.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(id), nil)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*models.Transaction, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("processor %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode == http.StatusNotFound {
		return nil, ErrTransactionNotFound
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("processor %s %s failed: %s (%d)", method, path, strings.TrimSpace(string(raw)), res.StatusCode)
	}

	var tx models.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("parse transaction json failed: %w", err)
	}
	if tx.ID == "" {
		return nil, errors.New("processor returned a transaction without id")
	}
	return &tx, nil
}
