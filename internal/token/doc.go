// Package token issues and verifies the bearer tokens handed out by the
// authorization server.
//
// Tokens are HS256 JWTs carrying the session they authorize. Every issued
// token also has a revocation record in the store, keyed by its jti, that
// lives exactly as long as the token. Verification runs the local checks
// first (signature, expiry, issuer, audience) and only then goes to the
// store, so structurally invalid tokens never cost a round trip. A token is
// accepted only while its record exists unrevoked and its session is live.
package token
