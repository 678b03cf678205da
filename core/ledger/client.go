// Package ledger debits issuance fees against an external ledger service
// over HTTP.
package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/mintforge/mintd/core/mint"
)

// Client is an HTTP client for the fee ledger's transfer API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type debitRequest struct {
	Ledger     mint.Identity `json:"ledger"`
	From       mint.Identity `json:"from"`
	SubAccount string        `json:"sub_account,omitempty"`
	To         mint.Identity `json:"to"`
	Amount     *big.Int      `json:"amount"`
}

type debitResponse struct {
	TxID  string `json:"tx_id,omitempty"`
	Error string `json:"error,omitempty"`
}

// Debit moves amount from the caller's ledger account to the collector.
// A transfer rejected by the ledger comes back as an error; the caller
// treats any failure as fatal for the issuance.
func (c *Client) Debit(ctx context.Context, ledger mint.Identity, subAccount []byte, from, to mint.Identity, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("non-positive debit amount")
	}
	req := &debitRequest{
		Ledger: ledger,
		From:   from,
		To:     to,
		Amount: amount,
	}
	if len(subAccount) > 0 {
		req.SubAccount = base64.StdEncoding.EncodeToString(subAccount)
	}

	var resp debitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/transfers", req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ledger rejected transfer: %s", resp.Error)
	}
	if resp.TxID == "" {
		return "", fmt.Errorf("ledger returned no transaction id")
	}
	return resp.TxID, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, buf)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
