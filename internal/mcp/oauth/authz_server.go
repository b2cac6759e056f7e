package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/session"
	"github.com/teemow/mcpbridge/internal/store"
	"github.com/teemow/mcpbridge/internal/token"
)

// Recorder receives authorization outcomes. instrumentation.Metrics satisfies it.
type Recorder interface {
	RecordOAuthOperation(ctx context.Context, operation, result string)
}

// Server implements the PKCE-protected authorization code flow.
//
// Each authorization attempt moves REQUESTED -> CODE_ISSUED -> REDEEMED, or
// expires through the store TTL of its code. Authorize never attaches
// credentials to the session; that happens separately on the redirect
// endpoint once the identity provider has answered.
type Server struct {
	config   Config
	store    store.Store
	sessions *session.Manager
	tokens   *token.Service
	upstream *Upstream
	audit    *AuditLogger
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewServer creates an authorization server. upstream may be nil.
func NewServer(cfg Config, s store.Store, sessions *session.Manager, tokens *token.Service, upstream *Upstream) (*Server, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &Server{
		config:   cfg,
		store:    s,
		sessions: sessions,
		tokens:   tokens,
		upstream: upstream,
		audit:    NewAuditLogger(cfg.Logger),
		logger:   cfg.Logger,
		now:      time.Now,
	}, nil
}

// SetRecorder attaches a metrics recorder.
func (s *Server) SetRecorder(r Recorder) {
	s.recorder = r
}

// Config returns the effective configuration.
func (s *Server) Config() Config {
	return s.config
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Tokens returns the token service.
func (s *Server) Tokens() *token.Service {
	return s.tokens
}

func (s *Server) record(ctx context.Context, op string, err error) {
	if s.recorder == nil {
		return
	}
	result := "success"
	if err != nil {
		result = ClassifyError(err).Code
	}
	s.recorder.RecordOAuthOperation(ctx, op, result)
}

// retryStore runs op, retrying only while the store is unavailable.
func retryStore[T any](ctx context.Context, s *Server, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.Retry.InitialInterval
	b.MaxInterval = s.config.Retry.MaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, store.ErrUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.config.Retry.MaxTries),
		backoff.WithMaxElapsedTime(s.config.Retry.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("store unavailable, retrying", logging.Err(err), slog.Duration("backoff", next))
		}),
	)
}

// normalizeScope validates requested scopes against the supported list.
// An empty request yields the default scope.
func (s *Server) normalizeScope(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return []string{s.config.SupportedScopes[0]}, nil
	}
	out := make([]string, 0, len(requested))
	for _, sc := range requested {
		if !slices.Contains(s.config.SupportedScopes, sc) {
			return nil, ErrInvalidScope(fmt.Sprintf("unsupported scope %q", sc))
		}
		if !slices.Contains(out, sc) {
			out = append(out, sc)
		}
	}
	return out, nil
}

// Authorize validates the request, binds a new authorization code to the
// session and returns the authorization reference.
func (s *Server) Authorize(ctx context.Context, req AuthorizeRequest) (res *AuthorizeResult, err error) {
	defer func() { s.record(ctx, "authorize", err) }()

	// input validation happens before any store access
	if err := ValidateCodeChallengeFormat(req.CodeChallenge); err != nil {
		return nil, ErrInvalidRequest(err.Error())
	}
	if err := ValidateCodeChallengeMethod(req.CodeChallengeMethod); err != nil {
		return nil, ErrInvalidRequest(err.Error())
	}
	if err := ValidateRedirectURI(req.RedirectURI); err != nil {
		s.audit.LogInvalidRedirect(req.ClientIP, err.Error())
		return nil, err
	}
	if req.SessionID == "" {
		return nil, ErrInvalidRequest("session_id is required")
	}
	scope, err := s.normalizeScope(req.Scope)
	if err != nil {
		return nil, err
	}

	if _, err := retryStore(ctx, s, func() (*session.Session, error) {
		return s.sessions.Touch(ctx, req.SessionID)
	}); err != nil {
		return nil, ClassifyError(err)
	}

	code, err := GenerateAuthorizationCode()
	if err != nil {
		return nil, ErrServerError("failed to generate authorization code")
	}
	now := s.now()
	rec := AuthorizationCode{
		Code:                code,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: CodeChallengeMethodS256,
		RedirectURI:         req.RedirectURI,
		SessionID:           req.SessionID,
		Scope:               scope,
		State:               req.State,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.config.CodeTTL),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, ErrServerError("failed to encode authorization code")
	}

	stored, err := retryStore(ctx, s, func() (bool, error) {
		return s.store.SetNX(ctx, store.AuthCodeKey(code), data, s.config.CodeTTL)
	})
	if err != nil {
		return nil, ClassifyError(err)
	}
	if !stored {
		return nil, ErrServerError("authorization code collision")
	}

	redirectURL, err := buildRedirectURL(req.RedirectURI, code, req.State)
	if err != nil {
		return nil, ErrInvalidRedirectURI("redirect_uri is not a valid URL")
	}

	forward := ""
	if req.ForwardAfterLogin {
		forward = redirectURL
	}
	loginState, loginURL, err := s.beginLogin(ctx, req.SessionID, forward)
	if err != nil {
		return nil, ClassifyError(err)
	}

	s.audit.LogCodeIssued(req.SessionID, req.ClientIP)
	s.logger.Info("authorization code issued",
		logging.SessionHash(req.SessionID),
		slog.Bool("upstream_login", loginURL != ""))

	return &AuthorizeResult{
		Code:        code,
		RedirectURL: redirectURL,
		State:       req.State,
		ExpiresIn:   int64(s.config.CodeTTL / time.Second),
		SessionID:   req.SessionID,
		LoginState:  loginState,
		LoginURL:    loginURL,
	}, nil
}

// beginLogin stores the login state that maps the identity provider
// callback back to the session, and builds the provider URL when one is
// configured.
func (s *Server) beginLogin(ctx context.Context, sessionID, clientRedirect string) (state, loginURL string, err error) {
	state, err = GenerateState()
	if err != nil {
		return "", "", err
	}
	ls := LoginState{
		SessionID:      sessionID,
		ClientRedirect: clientRedirect,
		CreatedAt:      s.now(),
	}
	if s.upstream != nil {
		ls.CodeVerifier = s.upstream.NewVerifier()
		loginURL = s.upstream.AuthCodeURL(state, ls.CodeVerifier)
	}
	data, err := json.Marshal(ls)
	if err != nil {
		return "", "", err
	}
	if _, err := retryStore(ctx, s, func() (struct{}, error) {
		return struct{}{}, s.store.Set(ctx, store.LoginStateKey(state), data, DefaultLoginStateTTL)
	}); err != nil {
		return "", "", err
	}
	return state, loginURL, nil
}

func buildRedirectURL(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Exchange redeems an authorization code for a bearer token.
//
// When no token could be issued after the code was taken, the code is put
// back with its remaining lifetime so the client can retry the exchange.
//
// A missing or expired code, a PKCE mismatch and a redirect URI mismatch all
// fail with invalid_grant and leave the code untouched. Redemption itself is
// a single atomic take, so among concurrent exchanges of one code exactly
// one succeeds.
func (s *Server) Exchange(ctx context.Context, req ExchangeRequest) (res *TokenResponse, err error) {
	defer func() { s.record(ctx, "exchange", err) }()

	if req.Code == "" {
		return nil, ErrInvalidRequest("code is required")
	}
	if req.CodeVerifier == "" {
		return nil, ErrInvalidRequest("code_verifier is required")
	}
	if err := ValidateCodeVerifierFormat(req.CodeVerifier); err != nil {
		s.audit.LogInvalidPKCE("", req.ClientIP, err.Error())
		return nil, ErrInvalidGrant(err.Error())
	}

	key := store.AuthCodeKey(req.Code)
	data, err := retryStore(ctx, s, func() ([]byte, error) {
		return s.store.Get(ctx, key)
	})
	if errors.Is(err, store.ErrNotFound) {
		s.audit.LogCodeReuse(hashForLogging(req.Code), req.ClientIP)
		return nil, ErrInvalidGrant("authorization code is invalid, expired or already used")
	}
	if err != nil {
		return nil, ClassifyError(err)
	}

	var rec AuthorizationCode
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, ErrInvalidGrant("authorization code is invalid")
	}

	if !VerifyCodeChallenge(req.CodeVerifier, rec.CodeChallenge) {
		s.audit.LogInvalidPKCE(rec.SessionID, req.ClientIP, "code_verifier does not match code_challenge")
		return nil, ErrInvalidGrant("code_verifier does not match code_challenge")
	}
	if req.RedirectURI != "" && req.RedirectURI != rec.RedirectURI {
		s.audit.LogInvalidRedirect(req.ClientIP, "redirect_uri does not match the authorization request")
		return nil, ErrInvalidGrant("redirect_uri does not match the authorization request")
	}

	exists, err := retryStore(ctx, s, func() (bool, error) {
		return s.sessions.Exists(ctx, rec.SessionID)
	})
	if err != nil {
		return nil, ClassifyError(err)
	}
	if !exists {
		s.audit.LogAuthFailure(rec.SessionID, req.ClientIP, "session of authorization code no longer exists")
		return nil, ErrInvalidGrant("the session of this authorization code no longer exists")
	}

	if _, err := retryStore(ctx, s, func() ([]byte, error) {
		return s.store.Take(ctx, key)
	}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.audit.LogCodeReuse(hashForLogging(req.Code), req.ClientIP)
			return nil, ErrInvalidGrant("authorization code was already used")
		}
		return nil, ClassifyError(err)
	}

	issued, err := retryStore(ctx, s, func() (*token.Issued, error) {
		return s.tokens.Issue(ctx, rec.SessionID, rec.Scope)
	})
	if err != nil {
		s.restoreCode(ctx, req.Code, data, rec.ExpiresAt)
		return nil, ClassifyError(err)
	}

	scope := strings.Join(rec.Scope, " ")
	s.audit.LogTokenIssued(rec.SessionID, req.ClientIP, scope)

	return &TokenResponse{
		AccessToken: issued.Token,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   issued.ExpiresIn(s.now()),
		Scope:       scope,
	}, nil
}

// restoreCode puts a taken authorization code back with its original expiry.
func (s *Server) restoreCode(ctx context.Context, code string, data []byte, expiresAt time.Time) {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if _, err := retryStore(ctx, s, func() (bool, error) {
		return s.store.SetNX(ctx, store.AuthCodeKey(code), data, ttl)
	}); err != nil {
		s.logger.Warn("failed to restore authorization code",
			slog.String("code_hash", hashForLogging(code)), logging.Err(err))
	}
}
