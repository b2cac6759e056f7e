package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/teemow/mcpbridge/internal/session"
	"github.com/teemow/mcpbridge/internal/store"
	"github.com/teemow/mcpbridge/internal/token"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches any OAuthError with the same code.
func (e *OAuthError) Is(target error) bool {
	var t *OAuthError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Error codes beyond RFC 6749.
const (
	CodeSessionNotFound          = "session_not_found"
	CodeTemporarilyUnavailable   = "temporarily_unavailable"
	CodeRegistrationNotSupported = "registration_not_supported"
	CodeRateLimitExceeded        = "rate_limit_exceeded"
	CodeUnauthorized             = "unauthorized"
)

// Common OAuth errors as reusable instances
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError("invalid_request", desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the authorization code is invalid, expired or already used
	ErrInvalidGrant = func(desc string) *OAuthError {
		return NewOAuthError("invalid_grant", desc, http.StatusBadRequest)
	}

	// ErrInvalidScope indicates the requested scope is invalid or unsupported
	ErrInvalidScope = func(desc string) *OAuthError {
		return NewOAuthError("invalid_scope", desc, http.StatusBadRequest)
	}

	// ErrInvalidToken indicates the access token is invalid, expired or revoked
	ErrInvalidToken = func(desc string) *OAuthError {
		return NewOAuthError("invalid_token", desc, http.StatusUnauthorized)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *OAuthError {
		return NewOAuthError("unsupported_grant_type", desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError("server_error", desc, http.StatusInternalServerError)
	}

	// ErrAccessDenied indicates the user or identity provider denied the request
	ErrAccessDenied = func(desc string) *OAuthError {
		return NewOAuthError("access_denied", desc, http.StatusForbidden)
	}

	// ErrInvalidRedirectURI indicates the redirect URI is malformed or not allowed
	ErrInvalidRedirectURI = func(desc string) *OAuthError {
		return NewOAuthError("invalid_request", desc, http.StatusBadRequest)
	}

	// ErrSessionNotFound indicates the session is gone and the client must start over
	ErrSessionNotFound = func(desc string) *OAuthError {
		return NewOAuthError(CodeSessionNotFound, desc, http.StatusNotFound)
	}

	// ErrTemporarilyUnavailable indicates the credential store could not be reached
	ErrTemporarilyUnavailable = func(desc string) *OAuthError {
		return NewOAuthError(CodeTemporarilyUnavailable, desc, http.StatusServiceUnavailable)
	}
)

// ClassifyError maps an error from any layer onto a stable OAuth error.
// The returned description never includes lower-layer detail.
func ClassifyError(err error) *OAuthError {
	if err == nil {
		return nil
	}

	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return oauthErr
	}

	switch {
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound("Session is invalid or expired. Please login again.")
	case errors.Is(err, session.ErrNoCredentials):
		return ErrInvalidRequest("No credentials supplied")
	case errors.Is(err, token.ErrExpired):
		return ErrInvalidToken("The access token expired")
	case errors.Is(err, token.ErrRevoked):
		return ErrInvalidToken("The access token was revoked")
	case errors.Is(err, token.ErrSessionNotFound):
		return ErrInvalidToken("The session of the access token no longer exists")
	case errors.Is(err, token.ErrSignatureInvalid):
		return ErrInvalidToken("The access token is invalid")
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, context.DeadlineExceeded):
		return ErrTemporarilyUnavailable("The service is temporarily unavailable. Please retry.")
	default:
		return ErrServerError("Internal server error")
	}
}
