package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/store"
	"github.com/teemow/mcpbridge/internal/upstream"
)

// RedirectSuccessMessage is shown when no client redirect is pending.
const RedirectSuccessMessage = "Authentication complete. You can return to the chat."

// Hydration sources reported in audit events.
const (
	SourceUpstream = "upstream"
	SourceDirect   = "direct"
)

// ServeRedirect is the identity provider callback. It resolves the login
// state to its session and attaches the resulting credentials.
//
// With an upstream provider configured, the provider code is exchanged for
// credentials. Without one, the credentials are read from the access_token,
// refresh_token, token_type and expires_in parameters.
func (h *Handler) ServeRedirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p, err := params(r)
	if err != nil {
		h.writeError(w, ErrInvalidRequest("Invalid request body"))
		return
	}
	state := p["state"]
	if state == "" {
		h.writeError(w, ErrInvalidRequest("state is required"))
		return
	}

	ctx := r.Context()
	ip := h.clientIP(r)

	ls, err := h.server.takeLoginState(ctx, state)
	if err != nil {
		h.writeError(w, ClassifyError(err))
		return
	}

	if e := p["error"]; e != "" {
		h.audit.LogAuthFailure(ls.SessionID, ip, "identity provider returned "+e)
		h.writeError(w, ErrAccessDenied("The identity provider denied the login"))
		return
	}

	creds, source, err := h.credentials(ctx, p, ls)
	if err != nil {
		h.audit.LogAuthFailure(ls.SessionID, ip, err.Error())
		h.writeError(w, ClassifyError(err))
		return
	}

	if err := h.server.Hydrate(ctx, ls.SessionID, creds); err != nil {
		h.audit.LogAuthFailure(ls.SessionID, ip, "hydrate failed")
		h.writeError(w, ClassifyError(err))
		return
	}
	h.audit.LogSessionHydrated(ls.SessionID, ip, source)

	if ls.ClientRedirect != "" {
		setSecurityHeaders(w, h.config.Resource)
		http.Redirect(w, r, ls.ClientRedirect, http.StatusFound)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": RedirectSuccessMessage,
	})
}

func (h *Handler) credentials(ctx context.Context, p map[string]string, ls *LoginState) (*upstream.Credentials, string, error) {
	if code := p["code"]; code != "" && h.server.upstream != nil {
		creds, err := h.server.upstream.Exchange(ctx, code, ls.CodeVerifier)
		if err != nil {
			h.logger.Warn("upstream login failed", logging.SessionHash(ls.SessionID), logging.Err(err))
			return nil, "", ErrAccessDenied("The identity provider login could not be completed")
		}
		return creds, SourceUpstream, nil
	}

	if p["access_token"] == "" {
		return nil, "", ErrInvalidRequest("access_token is required")
	}
	creds := &upstream.Credentials{
		AccessToken:  p["access_token"],
		RefreshToken: p["refresh_token"],
		TokenType:    p["token_type"],
		IDToken:      p["id_token"],
	}
	if v := p["expires_in"]; v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil || secs < 0 {
			return nil, "", ErrInvalidRequest("expires_in must be a non-negative integer")
		}
		creds.Expiry = h.server.now().Add(time.Duration(secs) * time.Second)
	}
	return creds, SourceDirect, nil
}

// takeLoginState consumes a login state. Each state resolves at most once.
func (s *Server) takeLoginState(ctx context.Context, state string) (*LoginState, error) {
	data, err := retryStore(ctx, s, func() ([]byte, error) {
		return s.store.Take(ctx, store.LoginStateKey(state))
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidRequest("state is unknown or expired")
	}
	if err != nil {
		return nil, err
	}
	var ls LoginState
	if err := json.Unmarshal(data, &ls); err != nil {
		return nil, ErrInvalidRequest("state is invalid")
	}
	return &ls, nil
}

// Hydrate attaches credentials to a session, moving it to authenticated.
func (s *Server) Hydrate(ctx context.Context, sessionID string, creds *upstream.Credentials) error {
	data, err := creds.Encode()
	if err != nil {
		return ErrInvalidRequest(err.Error())
	}
	if _, err := retryStore(ctx, s, func() (struct{}, error) {
		return struct{}{}, s.sessions.Hydrate(ctx, sessionID, data)
	}); err != nil {
		return err
	}
	attrs := []any{logging.SessionHash(sessionID), slog.Bool("refreshable", creds.RefreshToken != "")}
	if creds.Email != "" {
		attrs = append(attrs, logging.UserHash(creds.Email), logging.Domain(creds.Email))
	}
	s.logger.Info("session hydrated", attrs...)
	return nil
}
