package oauth

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/teemow/mcpbridge/internal/logging"
)

// Handler exposes the authorization server over HTTP.
type Handler struct {
	server      *Server
	config      Config
	rateLimiter *RateLimiter
	audit       *AuditLogger
	logger      *slog.Logger
}

// NewHandler creates the HTTP front of an authorization server.
func NewHandler(server *Server) *Handler {
	cfg := server.Config()

	var rl *RateLimiter
	if cfg.RateLimit.Rate > 0 {
		cleanup := cfg.RateLimit.CleanupInterval
		if cleanup <= 0 {
			cleanup = DefaultRateLimitCleanupInterval
		}
		rl = NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, cfg.RateLimit.TrustProxy, cleanup)
		cfg.Logger.Info("IP-based rate limiting enabled",
			slog.Float64("rate", cfg.RateLimit.Rate),
			slog.Int("burst", cfg.RateLimit.Burst))
	}

	return &Handler{
		server:      server,
		config:      cfg,
		rateLimiter: rl,
		audit:       server.audit,
		logger:      cfg.Logger,
	}
}

// Register mounts the OAuth endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	limited := func(f http.HandlerFunc) http.Handler {
		return h.RateLimitMiddleware(f)
	}
	mux.Handle(PathAuthorize, limited(h.ServeAuthorize))
	mux.Handle(PathToken, limited(h.ServeToken))
	mux.Handle(PathRevoke, limited(h.ServeRevoke))
	mux.Handle(PathRegister, limited(h.ServeRegister))
	mux.Handle(PathRedirect, limited(h.ServeRedirect))
	mux.HandleFunc(PathAuthorizationServerMeta, h.ServeAuthorizationServerMetadata)
	mux.HandleFunc(PathProtectedResourceMeta, h.ServeProtectedResourceMetadata)
}

// Stop releases background resources.
func (h *Handler) Stop() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// Server returns the underlying authorization server.
func (h *Handler) Server() *Server {
	return h.server
}

func (h *Handler) clientIP(r *http.Request) string {
	return getClientIP(r, h.config.RateLimit.TrustProxy)
}

const maxBodyBytes = 64 << 10

// params reads request parameters from a JSON body, a form body or the query.
func params(r *http.Request) (map[string]string, error) {
	out := map[string]string{}

	if r.Method == http.MethodPost && isJSON(r.Header.Get("Content-Type")) {
		raw := map[string]any{}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&raw); err != nil {
			return nil, err
		}
		for k, v := range raw {
			switch t := v.(type) {
			case string:
				out[k] = t
			case float64:
				out[k] = strconv.FormatFloat(t, 'f', -1, 64)
			}
		}
		for k, v := range r.URL.Query() {
			if _, ok := out[k]; !ok && len(v) > 0 {
				out[k] = v[0]
			}
		}
		return out, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	for k, v := range r.Form {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out, nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

func wantsJSON(r *http.Request) bool {
	return r.Method == http.MethodPost || strings.Contains(r.Header.Get("Accept"), "application/json")
}

// ServeAuthorize starts an authorization attempt.
//
// GET redirects the browser to the identity provider, or straight to the
// client redirect URI when no provider is configured. POST, or any request
// accepting application/json, receives the authorization reference as JSON.
// A session is created when session_id is absent.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p, err := params(r)
	if err != nil {
		h.writeError(w, ErrInvalidRequest("Invalid request body"))
		return
	}
	if rt := p["response_type"]; rt != "" && rt != "code" {
		h.writeError(w, NewOAuthError("unsupported_response_type", "response_type must be code", http.StatusBadRequest))
		return
	}

	req := AuthorizeRequest{
		CodeChallenge:       p["code_challenge"],
		CodeChallengeMethod: p["code_challenge_method"],
		RedirectURI:         p["redirect_uri"],
		SessionID:           p["session_id"],
		Scope:               strings.Fields(p["scope"]),
		State:               p["state"],
		ClientIP:            h.clientIP(r),
		ForwardAfterLogin:   !wantsJSON(r),
	}

	// fail fast on malformed input before a session is created for it
	if err := ValidateCodeChallengeFormat(req.CodeChallenge); err != nil {
		h.writeError(w, ErrInvalidRequest(err.Error()))
		return
	}
	if err := ValidateCodeChallengeMethod(req.CodeChallengeMethod); err != nil {
		h.writeError(w, ErrInvalidRequest(err.Error()))
		return
	}
	if err := ValidateRedirectURI(req.RedirectURI); err != nil {
		h.audit.LogInvalidRedirect(req.ClientIP, err.Error())
		h.writeError(w, ClassifyError(err))
		return
	}

	ctx := r.Context()
	if req.SessionID == "" {
		id, err := retryStore(ctx, h.server, func() (string, error) {
			return h.server.sessions.Create(ctx)
		})
		if err != nil {
			h.writeError(w, ClassifyError(err))
			return
		}
		req.SessionID = id
	}

	res, err := h.server.Authorize(ctx, req)
	if err != nil {
		h.writeError(w, ClassifyError(err))
		return
	}

	if wantsJSON(r) {
		h.writeJSON(w, http.StatusOK, res)
		return
	}

	target := res.RedirectURL
	if res.LoginURL != "" {
		target = res.LoginURL
	}
	setSecurityHeaders(w, h.config.Resource)
	http.Redirect(w, r, target, http.StatusFound)
}

// ServeToken redeems an authorization code.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p, err := params(r)
	if err != nil {
		h.writeError(w, ErrInvalidRequest("Invalid request body"))
		return
	}
	if gt := p["grant_type"]; gt != GrantTypeAuthorizationCode {
		h.writeError(w, ErrUnsupportedGrantType("grant_type must be authorization_code"))
		return
	}

	resp, err := h.server.Exchange(r.Context(), ExchangeRequest{
		Code:         p["code"],
		CodeVerifier: p["code_verifier"],
		RedirectURI:  p["redirect_uri"],
		ClientIP:     h.clientIP(r),
	})
	if err != nil {
		h.writeError(w, ClassifyError(err))
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	h.writeJSON(w, http.StatusOK, resp)
}

// ServeRegister rejects dynamic client registration. Clients are public and
// identified by their PKCE challenge only.
func (h *Handler) ServeRegister(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, NewOAuthError(CodeRegistrationNotSupported,
		"Dynamic client registration is not supported", http.StatusNotImplemented))
}

// ServeProtectedResourceMetadata serves RFC 9728 metadata.
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, ProtectedResourceMetadata{
		Resource:                          h.config.Resource,
		AuthorizationServers:              []string{h.config.BaseURL},
		BearerMethodsSupported:            []string{"header"},
		ResourceSigningAlgValuesSupported: []string{"HS256"},
		ScopesSupported:                   h.config.SupportedScopes,
	})
}

// ServeAuthorizationServerMetadata serves RFC 8414 metadata.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	base := h.config.BaseURL
	h.writeJSON(w, http.StatusOK, AuthorizationServerMetadata{
		Issuer:                            base,
		AuthorizationEndpoint:             base + PathAuthorize,
		TokenEndpoint:                     base + PathToken,
		RevocationEndpoint:                base + PathRevoke,
		ScopesSupported:                   h.config.SupportedScopes,
		ResponseTypesSupported:            SupportedResponseTypes,
		GrantTypesSupported:               SupportedGrantTypes,
		TokenEndpointAuthMethodsSupported: SupportedTokenAuthMethods,
		CodeChallengeMethodsSupported:     SupportedCodeChallengeMethods,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	setSecurityHeaders(w, h.config.Resource)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", logging.Err(err))
	}
}

// WriteError classifies err and writes it as an OAuth error response. Other
// HTTP surfaces use it so that every endpoint reports the same stable codes.
func (h *Handler) WriteError(w http.ResponseWriter, err error) {
	h.writeError(w, ClassifyError(err))
}

// writeError writes an OAuth error response.
func (h *Handler) writeError(w http.ResponseWriter, oerr *OAuthError) {
	if oerr == nil {
		oerr = ErrServerError("Internal server error")
	}
	h.logger.Debug("OAuth error",
		slog.String("code", oerr.Code),
		slog.String("description", oerr.Description),
		slog.Int("status", oerr.Status))
	if errors.Is(oerr, ErrTemporarilyUnavailable("")) {
		w.Header().Set("Retry-After", "1")
	}
	h.writeJSON(w, oerr.Status, ErrorResponse{
		Error:            oerr.Code,
		ErrorDescription: oerr.Description,
	})
}
