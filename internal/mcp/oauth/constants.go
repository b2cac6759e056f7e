package oauth

import "time"

// Authorization code and login timeouts
const (
	// DefaultAuthorizationCodeTTL is how long authorization codes are valid (10 minutes)
	DefaultAuthorizationCodeTTL = 10 * time.Minute

	// DefaultLoginStateTTL is how long an upstream login round trip may take
	DefaultLoginStateTTL = 10 * time.Minute

	// DefaultRateLimitCleanupInterval is how often to cleanup inactive rate limiters
	DefaultRateLimitCleanupInterval = 5 * time.Minute

	// InactiveLimiterCleanupWindow is the time after which inactive limiters are removed
	InactiveLimiterCleanupWindow = 10 * time.Minute
)

// Rate limiting defaults
const (
	// DefaultRateLimitRate is the default requests per second per IP
	DefaultRateLimitRate = 10

	// DefaultRateLimitBurst is the default burst size for rate limiting
	DefaultRateLimitBurst = 20
)

// Store retry defaults for operations that must not be lost to a blip
const (
	DefaultRetryMaxTries        = 4
	DefaultRetryInitialInterval = 50 * time.Millisecond
	DefaultRetryMaxInterval     = 500 * time.Millisecond
	DefaultRetryMaxElapsed      = 3 * time.Second
)

// PKCE and token generation constants
const (
	// CodeChallengeLength is the length of a base64url encoded SHA-256 digest
	CodeChallengeLength = 43

	// MinCodeVerifierLength is the minimum length for PKCE code_verifier (RFC 7636)
	MinCodeVerifierLength = 43

	// MaxCodeVerifierLength is the maximum length for PKCE code_verifier (RFC 7636)
	MaxCodeVerifierLength = 128

	// CodeChallengeMethodS256 is the only supported PKCE transform
	CodeChallengeMethodS256 = "S256"

	// GrantTypeAuthorizationCode is the only supported grant
	GrantTypeAuthorizationCode = "authorization_code"

	// TokenTypeBearer is the token_type of issued tokens
	TokenTypeBearer = "Bearer"

	// DefaultScope is granted when a client requests none
	DefaultScope = "mcp"
)

// Endpoint paths
const (
	PathAuthorize               = "/authorize"
	PathToken                   = "/token"
	PathRevoke                  = "/revoke"
	PathRegister                = "/register"
	PathRedirect                = "/redirect"
	PathAuthorizationServerMeta = "/.well-known/oauth-authorization-server"
	PathProtectedResourceMeta   = "/.well-known/oauth-protected-resource"
)

var (
	// LoopbackAddresses lists recognized loopback addresses for development
	LoopbackAddresses = []string{"localhost", "127.0.0.1", "::1", "[::1]"}

	// DangerousSchemes lists URI schemes that must never be allowed for security
	DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

	// SupportedGrantTypes are the grant types accepted at the token endpoint
	SupportedGrantTypes = []string{GrantTypeAuthorizationCode}

	// SupportedResponseTypes are the response types accepted at the authorization endpoint
	SupportedResponseTypes = []string{"code"}

	// SupportedCodeChallengeMethods are the PKCE methods we support
	// Security: Only S256 is allowed. "plain" method is insecure and violates OAuth 2.1
	SupportedCodeChallengeMethods = []string{CodeChallengeMethodS256}

	// SupportedTokenAuthMethods are the supported token endpoint auth methods
	SupportedTokenAuthMethods = []string{"none"}
)
