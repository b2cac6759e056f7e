package oauth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config holds the authorization server configuration.
type Config struct {
	// BaseURL is the public URL of this server. It is the issuer of the
	// authorization server metadata and the base of every endpoint URL.
	BaseURL string

	// Resource is the protected resource identifier. Defaults to BaseURL.
	Resource string

	// Realm is the bearer realm in WWW-Authenticate challenges.
	Realm string

	// SupportedScopes lists the scopes clients may request.
	SupportedScopes []string

	// CodeTTL is the authorization code lifetime.
	CodeTTL time.Duration

	RateLimit RateLimitConfig
	Retry     RetryConfig

	// Upstream configures the identity provider round trip. Nil means
	// credentials are handed to the redirect endpoint directly.
	Upstream *UpstreamConfig

	Logger     *slog.Logger
	HTTPClient *http.Client
}

// RateLimitConfig configures per-IP rate limiting of the OAuth endpoints.
type RateLimitConfig struct {
	// Rate is requests per second per IP. Zero disables rate limiting.
	Rate float64

	// Burst defaults to twice the rate.
	Burst int

	// TrustProxy trusts X-Forwarded-For and X-Real-IP.
	TrustProxy bool

	CleanupInterval time.Duration
}

// RetryConfig bounds the retries of store operations during authorize and exchange.
type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// UpstreamConfig configures the upstream identity provider.
type UpstreamConfig struct {
	ClientID     string
	ClientSecret string //nolint:gosec // credential from configuration

	// IssuerURL enables OIDC discovery and ID token verification.
	IssuerURL string

	// AuthURL and TokenURL are used when IssuerURL is empty.
	AuthURL  string
	TokenURL string

	Scopes []string

	// RedirectURL defaults to BaseURL + /redirect.
	RedirectURL string
}

// applyDefaults fills unset fields and validates the result.
func (c *Config) applyDefaults() error {
	if c.BaseURL == "" {
		return errors.New("base URL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Resource == "" {
		c.Resource = c.BaseURL
	}
	if c.Realm == "" {
		c.Realm = "mcp"
	}
	if len(c.SupportedScopes) == 0 {
		c.SupportedScopes = []string{DefaultScope}
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = DefaultAuthorizationCodeTTL
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = int(c.RateLimit.Rate * 2)
	}
	if c.Retry.MaxTries == 0 {
		c.Retry.MaxTries = DefaultRetryMaxTries
	}
	if c.Retry.InitialInterval <= 0 {
		c.Retry.InitialInterval = DefaultRetryInitialInterval
	}
	if c.Retry.MaxInterval <= 0 {
		c.Retry.MaxInterval = DefaultRetryMaxInterval
	}
	if c.Retry.MaxElapsedTime <= 0 {
		c.Retry.MaxElapsedTime = DefaultRetryMaxElapsed
	}
	if c.Upstream != nil {
		if c.Upstream.ClientID == "" {
			return errors.New("upstream client id is required")
		}
		if c.Upstream.IssuerURL == "" && (c.Upstream.AuthURL == "" || c.Upstream.TokenURL == "") {
			return errors.New("upstream requires an issuer URL or both auth and token URLs")
		}
		if c.Upstream.RedirectURL == "" {
			c.Upstream.RedirectURL = c.BaseURL + PathRedirect
		}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return nil
}
