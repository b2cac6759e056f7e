package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTimeout bounds a single upstream call.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of an upstream response is read.
const maxResponseBytes = 1 << 20

// ErrNotConfigured is returned when no upstream API base URL is set.
var ErrNotConfigured = errors.New("upstream API is not configured")

// APIError is a non-2xx upstream response.
type APIError struct {
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream API returned status %d", e.StatusCode)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string //nolint:gosec // credential from configuration
	HTTPClient *http.Client
}

// Client calls the upstream API with session credentials.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client. An empty BaseURL yields a client whose calls
// fail with ErrNotConfigured.
func NewClient(cfg ClientConfig) (*Client, error) {
	c := &Client{apiKey: cfg.APIKey, httpClient: cfg.HTTPClient}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
		if err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("invalid upstream base URL %q", cfg.BaseURL)
		}
		c.baseURL = u
	}
	return c, nil
}

// Configured reports whether a base URL is set.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != nil
}

// Get performs GET {base}/{path}?{query} with creds as bearer token and
// returns the decoded JSON body.
func (c *Client) Get(ctx context.Context, path string, query url.Values, creds *Credentials) (json.RawMessage, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if creds == nil || creds.AccessToken == "" {
		return nil, errors.New("no upstream credentials")
	}

	target := c.baseURL.JoinPath(strings.TrimLeft(path, "/"))
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	// oauth2.NewClient picks the base client up from the context
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(creds.Token()))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode}
	}
	if len(body) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, errors.New("upstream response is not valid JSON")
	}
	return json.RawMessage(body), nil
}
