package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/teemow/mcpbridge/internal/upstream"
)

// Upstream performs the login round trip against the identity provider that
// produces session credentials.
type Upstream struct {
	config     oauth2.Config
	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
}

// NewUpstream builds the provider client. When cfg.IssuerURL is set, the
// endpoints are discovered and ID tokens are verified against the issuer keys.
func NewUpstream(ctx context.Context, cfg UpstreamConfig, httpClient *http.Client) (*Upstream, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("upstream client id is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	u := &Upstream{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		httpClient: httpClient,
	}

	if cfg.IssuerURL != "" {
		provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to discover upstream issuer: %w", err)
		}
		u.config.Endpoint = provider.Endpoint()
		u.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
		if len(u.config.Scopes) == 0 {
			u.config.Scopes = []string{oidc.ScopeOpenID, "email"}
		}
	}

	if u.config.Endpoint.AuthURL == "" || u.config.Endpoint.TokenURL == "" {
		return nil, errors.New("upstream auth and token URLs are required")
	}
	return u, nil
}

// NewVerifier returns a fresh PKCE verifier for the provider leg.
func (u *Upstream) NewVerifier() string {
	return oauth2.GenerateVerifier()
}

// AuthCodeURL returns the provider login URL.
func (u *Upstream) AuthCodeURL(state, verifier string) string {
	return u.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades the provider code for credentials. A returned ID token is
// verified when discovery is enabled.
func (u *Upstream) Exchange(ctx context.Context, code, verifier string) (*upstream.Credentials, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, u.httpClient)

	tok, err := u.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("upstream code exchange failed: %w", err)
	}
	creds := upstream.CredentialsFromToken(tok)

	if u.verifier != nil && creds.IDToken != "" {
		idToken, err := u.verifier.Verify(oidc.ClientContext(ctx, u.httpClient), creds.IDToken)
		if err != nil {
			return nil, fmt.Errorf("upstream id token rejected: %w", err)
		}
		var claims struct {
			Email string `json:"email"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return nil, fmt.Errorf("upstream id token claims: %w", err)
		}
		creds.Subject = idToken.Subject
		creds.Email = claims.Email
	}
	return creds, nil
}
