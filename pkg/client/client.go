// Package client is a Go client for the secretvault HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Path is the vault action endpoint.
const Path = "/v1/integration-secrets"

// APIError is a non-2xx response from the vault.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vault responded %d: %s", e.StatusCode, e.Message)
}

// Metadata describes a stored record without its value.
type Metadata struct {
	Provider    string    `json:"provider"`
	Name        string    `json:"name"`
	UpdatedAt   time.Time `json:"updated_at"`
	IsMasterKey bool      `json:"is_master_key"`
}

// Usage is the metering state of the current metered key.
type Usage struct {
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	Exhausted bool `json:"exhausted"`
}

// Status is the result of a get action.
type Status struct {
	Configured   bool       `json:"configured"`
	UpdatedAt    *time.Time `json:"updated_at"`
	Usage        *Usage     `json:"usage,omitempty"`
	APIKeyMasked string     `json:"api_key_masked,omitempty"`
}

// Revealed is the result of a reveal action.
type Revealed struct {
	Value     string    `json:"value"`
	Masked    string    `json:"masked"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Client calls a vault server with a bearer token.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent sets the User-Agent recorded in audit entries.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a client for the server at baseURL.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		userAgent: "secretvault-cli",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List returns metadata for every stored record.
func (c *Client) List(ctx context.Context) ([]Metadata, error) {
	var out struct {
		Items []Metadata `json:"items"`
	}
	if err := c.do(ctx, map[string]string{"action": "list"}, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// SetMasterKey stores the master key.
func (c *Client) SetMasterKey(ctx context.Context, masterKey string) error {
	return c.do(ctx, map[string]string{"action": "set_master_key", "master_key": masterKey}, nil)
}

// RotateMasterKey re-encrypts every encrypted record under newKey and returns
// how many records were re-encrypted.
func (c *Client) RotateMasterKey(ctx context.Context, oldKey, newKey string) (int, error) {
	var out struct {
		Reencrypted int `json:"reencrypted"`
	}
	err := c.do(ctx, map[string]string{
		"action":         "rotate_master_key",
		"old_master_key": oldKey,
		"new_master_key": newKey,
	}, &out)
	return out.Reencrypted, err
}

// UpsertSecret encrypts and stores value under provider/name.
func (c *Client) UpsertSecret(ctx context.Context, provider, name, value string) error {
	return c.do(ctx, map[string]string{
		"action":   "upsert_secret",
		"provider": provider,
		"name":     name,
		"value":    value,
	}, nil)
}

// Get reports whether provider/name is configured. Empty provider and name
// address the metered key.
func (c *Client) Get(ctx context.Context, provider, name string) (Status, error) {
	var out Status
	err := c.do(ctx, addressed("get", provider, name), &out)
	return out, err
}

// Reveal returns the plaintext of provider/name. Every successful call is
// audited by the server.
func (c *Client) Reveal(ctx context.Context, provider, name string) (Revealed, error) {
	var out Revealed
	err := c.do(ctx, addressed("reveal", provider, name), &out)
	return out, err
}

// SetAPIKey stores a new metered key and returns its fresh usage.
func (c *Client) SetAPIKey(ctx context.Context, apiKey string) (Usage, error) {
	var out struct {
		Usage Usage `json:"usage"`
	}
	err := c.do(ctx, map[string]string{"action": "set", "api_key": apiKey}, &out)
	return out.Usage, err
}

// Clear removes provider/name, or the metered key when both are empty.
func (c *Client) Clear(ctx context.Context, provider, name string) error {
	return c.do(ctx, addressed("clear", provider, name), nil)
}

func addressed(action, provider, name string) map[string]string {
	body := map[string]string{"action": action}
	if provider != "" || name != "" {
		body["provider"] = provider
		body["name"] = name
	}
	return body
}

func (c *Client) do(ctx context.Context, body map[string]string, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
