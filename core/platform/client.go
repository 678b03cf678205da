// Package platform talks to the hosting platform's management API over
// HTTP. It is the only implementation of the orchestrator's Platform
// contract.
package platform

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

// Client is an HTTP client for the instance management API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New returns a client with a default HTTP timeout. Module installs ship
// the full binary in one request, so the timeout is generous.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type createRequest struct {
	Cycles      uint64          `json:"cycles"`
	Controllers []mint.Identity `json:"controllers"`
}

type createResponse struct {
	InstanceID mint.Identity `json:"instance_id"`
}

type statusResponse struct {
	State       string          `json:"state"`
	ModuleHash  string          `json:"module_hash,omitempty"`
	Controllers []mint.Identity `json:"controllers"`
	Cycles      *big.Int        `json:"cycles,omitempty"`
}

type installRequest struct {
	Mode         string `json:"mode"`
	ModuleBase64 string `json:"module_base64"`
	ArgsBase64   string `json:"args_base64,omitempty"`
}

type settingsRequest struct {
	Controllers []mint.Identity `json:"controllers"`
}

type configureRequest struct {
	Key   string        `json:"key"`
	Value mint.Identity `json:"value"`
}

// CreateInstance provisions a fresh instance with the given resource
// budget and controller set.
func (c *Client) CreateInstance(ctx context.Context, cycles uint64, controllers []mint.Identity) (mint.Identity, error) {
	var resp createResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/instances", &createRequest{
		Cycles:      cycles,
		Controllers: controllers,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.InstanceID == "" {
		return "", fmt.Errorf("platform returned empty instance id")
	}
	return resp.InstanceID, nil
}

// InstanceStatus fetches the platform's view of an instance.
func (c *Client) InstanceStatus(ctx context.Context, id mint.Identity) (*mint.InstanceStatus, error) {
	var resp statusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/instances/"+string(id), nil, &resp); err != nil {
		return nil, err
	}
	status := &mint.InstanceStatus{
		State:       resp.State,
		Controllers: resp.Controllers,
		Cycles:      resp.Cycles,
	}
	if resp.ModuleHash != "" {
		hash, err := base64.StdEncoding.DecodeString(resp.ModuleHash)
		if err != nil {
			return nil, fmt.Errorf("decode module hash: %w", err)
		}
		status.ModuleHash = hash
	}
	return status, nil
}

// InstallModule installs the module binary into the instance. Mode is
// always a plain install; re-installs are rejected upstream.
func (c *Client) InstallModule(ctx context.Context, id mint.Identity, module, args []byte) error {
	req := &installRequest{
		Mode:         "install",
		ModuleBase64: base64.StdEncoding.EncodeToString(module),
	}
	if len(args) > 0 {
		req.ArgsBase64 = base64.StdEncoding.EncodeToString(args)
	}
	return c.doJSON(ctx, http.MethodPost, "/v1/instances/"+string(id)+"/install", req, nil)
}

// UpdateSettings replaces the instance's controller set.
func (c *Client) UpdateSettings(ctx context.Context, id mint.Identity, controllers []mint.Identity) error {
	return c.doJSON(ctx, http.MethodPut, "/v1/instances/"+string(id)+"/settings", &settingsRequest{
		Controllers: controllers,
	}, nil)
}

// Configure sets a named configuration value on a running instance.
func (c *Client) Configure(ctx context.Context, id mint.Identity, key string, value mint.Identity) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/instances/"+string(id)+"/config", &configureRequest{
		Key:   key,
		Value: value,
	}, nil)
}

// DeleteInstance tears an instance down.
func (c *Client) DeleteInstance(ctx context.Context, id mint.Identity) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/instances/"+string(id), nil, nil)
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		payload = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), payload)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
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
