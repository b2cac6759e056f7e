package oauth

import "time"

// ProtectedResourceMetadata represents OAuth 2.0 Protected Resource Metadata (RFC 9728)
type ProtectedResourceMetadata struct {
	// Resource is the identifier for the protected resource
	Resource string `json:"resource"`

	// AuthorizationServers lists the authorization servers that can issue tokens for this resource
	AuthorizationServers []string `json:"authorization_servers"`

	// BearerMethodsSupported lists the ways Bearer tokens can be sent (RFC 6750)
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`

	// ResourceSigningAlgValuesSupported lists supported signing algorithms
	ResourceSigningAlgValuesSupported []string `json:"resource_signing_alg_values_supported,omitempty"`

	// ScopesSupported lists the scopes understood by this resource
	ScopesSupported []string `json:"scopes_supported,omitempty"`
}

// AuthorizationServerMetadata represents OAuth 2.0 Authorization Server Metadata (RFC 8414)
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`

	// ErrorURI points to error documentation
	ErrorURI string `json:"error_uri,omitempty"`
}

// AuthorizationCode is the persisted record behind an issued code.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	RedirectURI         string    `json:"redirect_uri"`
	SessionID           string    `json:"session_id"`
	Scope               []string  `json:"scope,omitempty"`
	State               string    `json:"state,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// LoginState binds an upstream identity provider round trip to a session.
type LoginState struct {
	SessionID string `json:"session_id"`

	// CodeVerifier is the PKCE verifier used towards the upstream provider.
	CodeVerifier string `json:"code_verifier,omitempty"`

	// ClientRedirect is where the browser goes once the session is hydrated.
	ClientRedirect string `json:"client_redirect,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AuthorizeRequest is the input of Server.Authorize.
type AuthorizeRequest struct {
	CodeChallenge       string
	CodeChallengeMethod string
	RedirectURI         string
	SessionID           string
	Scope               []string
	State               string
	ClientIP            string

	// ForwardAfterLogin makes the redirect endpoint send the browser on to
	// the client redirect target once the session is hydrated.
	ForwardAfterLogin bool
}

// AuthorizeResult is the authorization reference returned to the caller.
type AuthorizeResult struct {
	Code        string `json:"code"`
	RedirectURL string `json:"redirect_uri"`
	State       string `json:"state,omitempty"`
	ExpiresIn   int64  `json:"expires_in"`
	SessionID   string `json:"session_id"`

	// LoginState is the opaque value the identity provider must echo to the
	// redirect endpoint.
	LoginState string `json:"login_state"`

	// LoginURL is set when an upstream identity provider is configured.
	LoginURL string `json:"login_url,omitempty"`
}

// ExchangeRequest is the input of Server.Exchange.
type ExchangeRequest struct {
	Code         string
	CodeVerifier string
	RedirectURI  string
	ClientIP     string
}

// TokenResponse is the token endpoint response body.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}
