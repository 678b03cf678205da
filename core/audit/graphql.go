package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mintforge/mintd/core/mint"
)

// GraphQL writes issued-token records to an external indexing service via
// a GraphQL mutation endpoint.
type GraphQL struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

func NewGraphQL(url, apiKey string) *GraphQL {
	return &GraphQL{
		URL:    url,
		APIKey: apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

const createTokenInfoMutation = `mutation CreateTokenInfo($input: TokenInfoInput!) {
  createTokenInfo(input: $input) { id }
}`

// TokenIssued records the token in the index with a createTokenInfo
// mutation.
func (g *GraphQL) TokenIssued(ctx context.Context, record mint.TokenRecord) error {
	supply := "0"
	if record.TotalSupply != nil {
		supply = record.TotalSupply.String()
	}
	input := map[string]any{
		"tokenId":     string(record.TokenID),
		"issuer":      string(record.Issuer),
		"name":        record.Name,
		"symbol":      record.Symbol,
		"decimals":    record.Decimals,
		"totalSupply": supply,
		"timestamp":   record.Timestamp,
	}
	return g.Mutate(ctx, createTokenInfoMutation, map[string]any{"input": input})
}

// Mutate posts a raw GraphQL mutation. Exposed for owner-driven admin
// operations against the same index.
func (g *GraphQL) Mutate(ctx context.Context, query string, variables map[string]any) error {
	body, err := json.Marshal(&graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("encode mutation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		req.Header.Set("X-API-Key", g.APIKey)
	}

	client := g.HTTPClient
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

	var out graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(out.Errors) > 0 {
		return fmt.Errorf("mutation rejected: %s", out.Errors[0].Message)
	}
	return nil
}
