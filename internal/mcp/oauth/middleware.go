package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/session"
	"github.com/teemow/mcpbridge/internal/token"
)

type contextKey string

const claimsContextKey contextKey = "token_claims"

// ClaimsFromContext returns the verified token claims of the request.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey).(*token.Claims)
	return c, ok
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// challenge builds the WWW-Authenticate value pointing clients at the
// protected resource metadata.
func (h *Handler) challenge(errCode, desc string) string {
	v := fmt.Sprintf(`Bearer realm=%q, resource=%q, as_uri=%q, resource_metadata=%q`,
		h.config.Realm, h.config.Resource, h.config.BaseURL, h.config.BaseURL+PathProtectedResourceMeta)
	if errCode != "" {
		v += fmt.Sprintf(`, error=%q, error_description=%q`, errCode, desc)
	}
	return v
}

// BearerAuth requires a valid bearer token. The token's session is touched
// and attached to the request context as a session.Handle, together with
// the token claims.
func (h *Handler) BearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := h.clientIP(r)
		ctx := r.Context()

		tok, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", h.challenge("", ""))
			h.writeError(w, NewOAuthError(CodeUnauthorized, "Valid Bearer token required", http.StatusUnauthorized))
			return
		}

		claims, err := h.server.tokens.Verify(ctx, tok)
		h.recordVerification(ctx, err)
		if err != nil {
			h.rejectToken(w, ip, tok, err)
			return
		}

		sess, err := h.server.sessions.Touch(ctx, claims.SessionID)
		if err != nil {
			h.rejectToken(w, ip, tok, err)
			return
		}

		h.logger.Debug("bearer token accepted",
			logging.SessionHash(sess.ID),
			logging.ClientIP(ip),
			slog.String("jti_hash", hashForLogging(claims.ID)))

		ctx = session.NewContext(ctx, session.NewHandle(h.server.sessions, sess))
		ctx = context.WithValue(ctx, claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verificationRecorder is implemented by recorders that also count bearer
// token verifications.
type verificationRecorder interface {
	RecordTokenVerification(ctx context.Context, result string)
}

func (h *Handler) recordVerification(ctx context.Context, err error) {
	vr, ok := h.server.recorder.(verificationRecorder)
	if !ok {
		return
	}
	result := "valid"
	switch {
	case err == nil:
	case errors.Is(err, token.ErrExpired):
		result = "expired"
	case errors.Is(err, token.ErrRevoked):
		result = "revoked"
	default:
		result = "invalid"
	}
	vr.RecordTokenVerification(ctx, result)
}

func (h *Handler) rejectToken(w http.ResponseWriter, ip, tok string, err error) {
	oerr := ClassifyError(err)
	switch oerr.Code {
	case CodeTemporarilyUnavailable:
		h.writeError(w, oerr)
		return
	case CodeSessionNotFound:
		oerr = ErrInvalidToken("The session of the access token no longer exists")
	case "invalid_token":
	default:
		h.logger.Error("bearer verification failed", slog.String("token", logging.SanitizeToken(tok)), logging.Err(err))
		h.writeError(w, oerr)
		return
	}
	h.audit.LogInvalidToken(ip, oerr.Description)
	w.Header().Set("WWW-Authenticate", h.challenge(oerr.Code, oerr.Description))
	h.writeError(w, oerr)
}
