package cmd

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/mcpbridge/internal/token"
)

// StoreConfig selects and configures the credential store.
type StoreConfig struct {
	// Type is "redis" or "memory".
	Type string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisTLS       bool
	RedisKeyPrefix string
}

// SecurityConfig holds the key material and token identity.
type SecurityConfig struct {
	// SigningKey is the base64 HS256 key.
	SigningKey string

	// EncryptionKey is the base64 AES-256 key for session credentials.
	EncryptionKey string

	// EncryptionIV is bound to every sealed credential when set.
	EncryptionIV string

	Issuer      string
	Audience    string
	BearerRealm string
	SessionTTL  time.Duration
	TokenTTL    time.Duration
}

// UpstreamProviderConfig configures the identity provider used for login.
type UpstreamProviderConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	IssuerURL    string
	Scopes       []string
}

// APIConfig configures the upstream API the tools call.
type APIConfig struct {
	BaseURL string
	APIKey  string
}

// ServeConfig is the full configuration of the serve command.
type ServeConfig struct {
	Host    string
	Port    int
	BaseURL string

	Debug     bool
	LogFile   string
	LogFormat string

	MetricsAddr string

	HeartbeatInterval time.Duration
	AllowedOrigins    []string
	RateLimit         float64
	TrustProxy        bool

	Store    StoreConfig
	Security SecurityConfig
	Upstream UpstreamProviderConfig
	API      APIConfig
}

func addStoreFlags(cmd *cobra.Command, c *StoreConfig) {
	cmd.Flags().StringVar(&c.Type, "store", "redis", "Credential store: redis or memory (memory is for development only). Can also use STORE_TYPE env var.")
	cmd.Flags().StringVar(&c.RedisAddr, "redis-addr", "127.0.0.1:6379", "Redis server address. Can also use REDIS_ADDR or REDIS_HOST and REDIS_PORT env vars.")
	cmd.Flags().StringVar(&c.RedisPassword, "redis-password", "", "Redis password. Can also use REDIS_PASSWORD env var.")
	cmd.Flags().IntVar(&c.RedisDB, "redis-db", 0, "Redis database index. Can also use REDIS_DB env var.")
	cmd.Flags().BoolVar(&c.RedisTLS, "redis-tls", false, "Enable TLS for Redis connections. Can also use REDIS_TLS_ENABLED env var.")
	cmd.Flags().StringVar(&c.RedisKeyPrefix, "redis-key-prefix", "mcp:", "Prefix for all Redis keys. Can also use REDIS_KEY_PREFIX env var.")
}

func addSecurityFlags(cmd *cobra.Command, c *SecurityConfig) {
	cmd.Flags().StringVar(&c.SigningKey, "signing-key", "", "Token signing key (base64, at least 32 bytes). Can also use TOKEN_SIGNING_KEY env var. Generate with: openssl rand -base64 32")
	cmd.Flags().StringVar(&c.EncryptionKey, "encryption-key", "", "AES-256 key for session credentials at rest (base64, 32 bytes). Can also use ENCRYPTION_KEY env var.")
	cmd.Flags().StringVar(&c.EncryptionIV, "encryption-iv", "", "Additional value bound to sealed credentials (base64, 12 or 16 bytes). Can also use ENCRYPTION_IV env var.")
	cmd.Flags().StringVar(&c.Issuer, "issuer", "", "Token issuer (default: base URL). Can also use ISSUER env var.")
	cmd.Flags().StringVar(&c.Audience, "audience", "", "Token audience (default: base URL). Can also use AUDIENCE env var.")
	cmd.Flags().StringVar(&c.BearerRealm, "bearer-realm", "mcp", "Realm in WWW-Authenticate challenges. Can also use BEARER_REALM env var.")
	cmd.Flags().DurationVar(&c.SessionTTL, "session-ttl", time.Hour, "Sliding session lifetime. Can also use SESSION_TTL env var (seconds or duration).")
	cmd.Flags().DurationVar(&c.TokenTTL, "token-ttl", time.Hour, "Access token lifetime, capped at the session lifetime. Can also use TOKEN_TTL env var (seconds or duration).")
}

// loadStoreEnv applies store environment variables for flags that were not
// set explicitly.
func loadStoreEnv(cmd *cobra.Command, c *StoreConfig) error {
	envString(cmd, "store", &c.Type, "STORE_TYPE")
	if !cmd.Flags().Changed("redis-addr") {
		if addr := os.Getenv("REDIS_ADDR"); addr != "" {
			c.RedisAddr = addr
		} else if host := os.Getenv("REDIS_HOST"); host != "" {
			port := os.Getenv("REDIS_PORT")
			if port == "" {
				port = "6379"
			}
			c.RedisAddr = net.JoinHostPort(host, port)
		}
	}
	envString(cmd, "redis-password", &c.RedisPassword, "REDIS_PASSWORD", "REDIS_P")
	envString(cmd, "redis-key-prefix", &c.RedisKeyPrefix, "REDIS_KEY_PREFIX")
	if err := envBool(cmd, "redis-tls", &c.RedisTLS, "REDIS_TLS_ENABLED"); err != nil {
		return err
	}
	return envInt(cmd, "redis-db", &c.RedisDB, "REDIS_DB")
}

// loadSecurityEnv applies key and token environment variables for flags
// that were not set explicitly.
func loadSecurityEnv(cmd *cobra.Command, c *SecurityConfig) error {
	envString(cmd, "signing-key", &c.SigningKey, "TOKEN_SIGNING_KEY")
	envString(cmd, "encryption-key", &c.EncryptionKey, "ENCRYPTION_KEY")
	envString(cmd, "encryption-iv", &c.EncryptionIV, "ENCRYPTION_IV")
	envString(cmd, "issuer", &c.Issuer, "ISSUER")
	envString(cmd, "audience", &c.Audience, "AUDIENCE")
	envString(cmd, "bearer-realm", &c.BearerRealm, "BEARER_REALM")
	if err := envDuration(cmd, "session-ttl", &c.SessionTTL, "SESSION_TTL"); err != nil {
		return err
	}
	return envDuration(cmd, "token-ttl", &c.TokenTTL, "TOKEN_TTL")
}

// loadServeEnv applies the environment to every serve setting whose flag
// was not set explicitly.
func loadServeEnv(cmd *cobra.Command, c *ServeConfig) error {
	envString(cmd, "host", &c.Host, "MCP_HOST")
	if err := envInt(cmd, "port", &c.Port, "MCP_PORT"); err != nil {
		return err
	}
	envString(cmd, "base-url", &c.BaseURL, "MCP_BASE_URL", "RESOURCE")
	if err := envBool(cmd, "debug", &c.Debug, "DEBUG"); err != nil {
		return err
	}
	envString(cmd, "log-file", &c.LogFile, "LOG_FILE")
	envString(cmd, "log-format", &c.LogFormat, "LOG_FORMAT")
	envString(cmd, "metrics-addr", &c.MetricsAddr, "METRICS_ADDR")
	if err := envDuration(cmd, "heartbeat-interval", &c.HeartbeatInterval, "HEARTBEAT_INTERVAL"); err != nil {
		return err
	}
	if !cmd.Flags().Changed("allowed-origins") {
		if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
			c.AllowedOrigins = parseCommaSeparatedList(v)
		}
	}
	if !cmd.Flags().Changed("rate-limit") {
		if v := os.Getenv("OAUTH_RATE_LIMIT"); v != "" {
			rate, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid OAUTH_RATE_LIMIT %q: %w", v, err)
			}
			c.RateLimit = rate
		}
	}
	if err := envBool(cmd, "trust-proxy", &c.TrustProxy, "TRUST_PROXY"); err != nil {
		return err
	}

	if err := loadStoreEnv(cmd, &c.Store); err != nil {
		return err
	}
	if err := loadSecurityEnv(cmd, &c.Security); err != nil {
		return err
	}

	// Provider and API settings come from the environment only.
	c.Upstream = UpstreamProviderConfig{
		ClientID:     os.Getenv("UPSTREAM_CLIENT_ID"),
		ClientSecret: os.Getenv("UPSTREAM_CLIENT_SECRET"),
		AuthURL:      os.Getenv("UPSTREAM_AUTH_URL"),
		TokenURL:     os.Getenv("UPSTREAM_TOKEN_URL"),
		IssuerURL:    os.Getenv("UPSTREAM_ISSUER"),
		Scopes:       parseCommaSeparatedList(os.Getenv("UPSTREAM_SCOPES")),
	}
	c.API = APIConfig{
		BaseURL: os.Getenv("API_BASE_URL"),
		APIKey:  os.Getenv("API_KEY"),
	}
	return nil
}

// resolveDefaults fills values derived from other settings.
func (c *ServeConfig) resolveDefaults() {
	if c.BaseURL == "" {
		host := c.Host
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "localhost"
		}
		c.BaseURL = "http://" + net.JoinHostPort(host, strconv.Itoa(c.Port))
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.Security.resolveDefaults(c.BaseURL)
}

func (c *SecurityConfig) resolveDefaults(baseURL string) {
	if c.Issuer == "" {
		c.Issuer = baseURL
	}
	if c.Audience == "" {
		c.Audience = baseURL
	}
}

// ListenAddr returns the address the bridge listens on.
func (c *ServeConfig) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// decodeSigningKey decodes and checks the signing key.
func decodeSigningKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, errors.New("signing key is required (--signing-key or TOKEN_SIGNING_KEY)")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key (must be base64 encoded): %w", err)
	}
	if len(key) < token.MinSigningKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes (got %d bytes)", token.MinSigningKeyLength, len(key))
	}
	return key, nil
}

func lookupEnv(keys ...string) (string, bool) {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v, true
		}
	}
	return "", false
}

func envString(cmd *cobra.Command, flag string, target *string, keys ...string) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v, ok := lookupEnv(keys...); ok {
		*target = v
	}
}

func envBool(cmd *cobra.Command, flag string, target *bool, keys ...string) error {
	if cmd.Flags().Changed(flag) {
		return nil
	}
	v, ok := lookupEnv(keys...)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s value %q (expected true/false)", keys[0], v)
	}
	*target = b
	return nil
}

func envInt(cmd *cobra.Command, flag string, target *int, keys ...string) error {
	if cmd.Flags().Changed(flag) {
		return nil
	}
	v, ok := lookupEnv(keys...)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", keys[0], v, err)
	}
	*target = n
	return nil
}

func envDuration(cmd *cobra.Command, flag string, target *time.Duration, keys ...string) error {
	if cmd.Flags().Changed(flag) {
		return nil
	}
	v, ok := lookupEnv(keys...)
	if !ok {
		return nil
	}
	d, err := parseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", keys[0], v, err)
	}
	*target = d
	return nil
}

// parseDuration accepts a Go duration or a plain number of seconds.
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, errors.New("must be positive")
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}

// parseCommaSeparatedList parses a comma-separated string into a slice,
// trimming whitespace from each element and filtering out empty strings.
// Returns nil if the input is empty or contains only whitespace/commas.
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
