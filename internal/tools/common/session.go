package common

import (
	"context"
	"errors"

	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/session"
	"github.com/teemow/mcpbridge/internal/upstream"
)

// MessageSessionExpired is returned to clients whose session has no usable
// upstream credentials.
const MessageSessionExpired = "Session is Expired. Please login again."

// ErrNoSession is returned when the transport attached no session to the
// request.
var ErrNoSession = errors.New("no session attached to request")

// SessionHandle returns the session the transport resolved for this request.
func SessionHandle(ctx context.Context) (*session.Handle, error) {
	h, ok := session.FromContext(ctx)
	if !ok {
		return nil, ErrNoSession
	}
	return h, nil
}

// SessionHash returns the log-safe hash of the request's session id, or ""
// when there is none.
func SessionHash(ctx context.Context) string {
	h, ok := session.FromContext(ctx)
	if !ok {
		return ""
	}
	return logging.HashID(h.ID())
}

// Credentials returns the upstream credentials hydrated into the request's
// session. Anonymous sessions yield session.ErrNoCredentials.
func Credentials(ctx context.Context) (*upstream.Credentials, error) {
	h, err := SessionHandle(ctx)
	if err != nil {
		return nil, err
	}
	s := h.Session()
	if !s.Authenticated() || len(s.Credentials) == 0 {
		return nil, session.ErrNoCredentials
	}
	return upstream.DecodeCredentials(s.Credentials)
}

// UserEmail returns the upstream identity of the request's session, if the
// identity provider reported one.
func UserEmail(ctx context.Context) string {
	creds, err := Credentials(ctx)
	if err != nil {
		return ""
	}
	return creds.Email
}
