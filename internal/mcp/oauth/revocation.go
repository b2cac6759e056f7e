package oauth

import (
	"errors"
	"net/http"

	"github.com/teemow/mcpbridge/internal/store"
)

// ServeRevoke handles RFC 7009 token revocation.
//
// Unknown, expired and malformed tokens are reported as revoked so the
// response never reveals whether a token existed.
func (h *Handler) ServeRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p, err := params(r)
	if err != nil {
		h.writeError(w, ErrInvalidRequest("Invalid request body"))
		return
	}
	tok := p["token"]
	if tok == "" {
		h.writeError(w, ErrInvalidRequest("token is required"))
		return
	}

	ctx := r.Context()
	if _, err := retryStore(ctx, h.server, func() (struct{}, error) {
		return struct{}{}, h.server.tokens.RevokeToken(ctx, tok)
	}); err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			h.writeError(w, ClassifyError(err))
			return
		}
		h.writeError(w, ErrServerError("Failed to revoke token"))
		return
	}

	h.audit.LogTokenRevoked(h.clientIP(r))
	setSecurityHeaders(w, h.config.Resource)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}
