// Package oauth implements the OAuth 2.1 authorization server of mcpbridge.
//
// Clients are public and prove possession of their authorization code with
// PKCE (S256 only). A flow has two separate phases:
//
//  1. Authorize binds a single-use authorization code to an existing
//     session and returns the code, the client redirect target and a login
//     state. The session stays anonymous.
//  2. The identity provider calls back on /redirect with the login state.
//     The session is hydrated with the resulting upstream credentials.
//
// Exchange redeems the code for a short-lived bearer token issued by the
// token service. Redemption is an atomic take on the credential store, so a
// code is redeemed at most once even under concurrent requests.
//
// # Endpoints
//
//   - /authorize, /token, /revoke, /redirect
//   - /register (always 501, dynamic registration is not offered)
//   - /.well-known/oauth-authorization-server (RFC 8414)
//   - /.well-known/oauth-protected-resource (RFC 9728)
//
// BearerAuth guards protected transports. It verifies the token, touches
// the session and attaches a session.Handle to the request context.
//
// # Security
//
// Redirect URIs must be absolute and use https unless they target a
// loopback host. Session ids and codes are hashed before they reach logs.
// Store outages during authorize and exchange are retried with exponential
// backoff and surface as temporarily_unavailable once the budget is spent.
package oauth
