// Package elastic implements the client for the hosted commerce backend.
//
// The backend provides the product catalog, per-chat carts, the order and
// payment lifecycle, and the "flows" collections the bot uses as its remote
// address book (pizzeria locations and customer profiles).
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Client configuration constants
const (
	// DefaultBaseURL is the commerce API endpoint.
	DefaultBaseURL = "https://api.moltin.com"
	// DefaultRequestTimeout bounds every remote round-trip. Remote calls are
	// the dominant latency source and must surface failures rather than hang.
	DefaultRequestTimeout = 10 * time.Second
	// tokenExpirySlack refreshes the bearer token slightly before the server
	// side expiry to avoid racing it.
	tokenExpirySlack = 30 * time.Second
)

// Opts holds configuration for the commerce client.
type Opts struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

// Option configures the commerce client.
type Option func(*Opts)

// WithBaseURL overrides the API endpoint (used by tests).
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithCredentials sets the OAuth client-credentials pair.
func WithCredentials(clientID, clientSecret string) Option {
	return func(o *Opts) {
		o.ClientID = clientID
		o.ClientSecret = clientSecret
	}
}

// WithHTTPClient overrides the HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client is the commerce backend client. It is safe for concurrent use; the
// bearer token is cached until expiry and refreshed lazily.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu           sync.Mutex
	token        string
	tokenExpires time.Time
}

// NewClient creates a commerce client from the provided options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{BaseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("commerce client credentials not set")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	slog.Debug("elastic.NewClient: commerce client created", "base_url", cfg.BaseURL)
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   cfg.HTTPClient,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Expires     int64  `json:"expires"`
}

// accessToken returns a valid bearer token, refreshing it if expired.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Add(tokenExpirySlack).Before(c.tokenExpires) {
		return c.token, nil
	}

	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("elastic token request failed", "error", err)
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Error("elastic token request rejected", "status", resp.StatusCode)
		return "", fmt.Errorf("token request returned status %d", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	c.token = tok.AccessToken
	c.tokenExpires = time.Unix(tok.Expires, 0)
	slog.Debug("elastic access token refreshed", "expires", c.tokenExpires)
	return c.token, nil
}

// do performs an authenticated API call. A non-nil body is JSON-encoded.
// The "data" member of the response envelope is decoded into out when out is
// non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("elastic request failed", "error", err, "method", method, "path", path)
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Error("elastic request rejected", "status", resp.StatusCode, "method", method, "path", path)
		return fmt.Errorf("%s %s returned status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
