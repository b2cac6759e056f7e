package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/store"
)

// MinSigningKeyLength is the minimum HS256 key length in bytes.
const MinSigningKeyLength = 32

// DefaultTTL is the default token lifetime.
const DefaultTTL = time.Hour

var (
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
	ErrRevoked          = errors.New("token revoked")
	ErrSessionNotFound  = errors.New("token session not found")
)

// Sessions reports whether a session is live. session.Manager satisfies it.
type Sessions interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Config configures a Service.
type Config struct {
	SigningKey []byte
	Issuer     string
	Audience   string

	// TTL is the token lifetime. It is clamped to MaxTTL when MaxTTL is set.
	TTL time.Duration

	// MaxTTL is the session window; a token must not outlive it.
	MaxTTL time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Claims are the JWT claims of a bridge token.
type Claims struct {
	SessionID string   `json:"session_id"`
	Scope     []string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Record is the persisted revocation record of a token.
type Record struct {
	JTI       string    `json:"jti"`
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

// Issued is the result of Issue.
type Issued struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
	Scope     []string
}

// ExpiresIn returns the lifetime left relative to now, in whole seconds.
func (i *Issued) ExpiresIn(now time.Time) int64 {
	return int64(i.ExpiresAt.Sub(now).Round(time.Second) / time.Second)
}

// Service issues, verifies and revokes tokens.
type Service struct {
	store    store.Store
	sessions Sessions
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service.
func NewService(s store.Store, sessions Sessions, cfg Config) (*Service, error) {
	if len(cfg.SigningKey) < MinSigningKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", MinSigningKeyLength, len(cfg.SigningKey))
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxTTL > 0 && cfg.TTL > cfg.MaxTTL {
		cfg.TTL = cfg.MaxTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:    s,
		sessions: sessions,
		key:      append([]byte(nil), cfg.SigningKey...),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}, nil
}

// TTL returns the effective token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// newJTI returns 16 random bytes in base64url.
func newJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate jti: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue mints a token for sessionID and writes its revocation record.
func (s *Service) Issue(ctx context.Context, sessionID string, scope []string) (*Issued, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	jti, err := newJTI()
	if err != nil {
		return nil, err
	}

	// JWT timestamps have second precision
	now := s.now().Truncate(time.Second)
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		SessionID: sessionID,
		Scope:     scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	rec := Record{
		JTI:       jti,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token record: %w", err)
	}
	if err := s.store.Set(ctx, store.TokenKey(jti), data, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store token record: %w", err)
	}

	s.logger.Debug("token issued", logging.SessionHash(sessionID), slog.String("jti_hash", logging.HashID(jti)))
	return &Issued{Token: signed, JTI: jti, ExpiresAt: expiresAt, Scope: scope}, nil
}

// Verify checks tok and returns its claims.
//
// Errors: ErrSignatureInvalid for any structural or signature failure,
// ErrExpired, ErrRevoked when the record is missing or revoked,
// ErrSessionNotFound when the session is gone, and store.ErrUnavailable.
func (s *Service) Verify(ctx context.Context, tok string) (*Claims, error) {
	claims, err := s.parse(tok, true)
	if err != nil {
		return nil, err
	}

	rec, err := s.record(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if rec.Revoked || rec.SessionID != claims.SessionID {
		return nil, ErrRevoked
	}

	ok, err := s.sessions.Exists(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}
	if !ok {
		return nil, ErrSessionNotFound
	}
	return claims, nil
}

// Revoke marks the record of jti revoked. Revoking an unknown or already
// revoked jti is not an error.
func (s *Service) Revoke(ctx context.Context, jti string) error {
	if jti == "" {
		return nil
	}
	err := s.store.Update(ctx, store.TokenKey(jti), func(current []byte) ([]byte, time.Duration, error) {
		var rec Record
		if err := json.Unmarshal(current, &rec); err != nil {
			// an unreadable record already fails verification; overwrite it
			rec = Record{JTI: jti}
		}
		rec.Revoked = true
		next, err := json.Marshal(rec)
		return next, 0, err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	s.logger.Info("token revoked", slog.String("jti_hash", logging.HashID(jti)))
	return nil
}

// RevokeToken revokes a presented token. Expired tokens are accepted so a
// client can always clean up. Tokens that were not signed by this service
// are ignored.
func (s *Service) RevokeToken(ctx context.Context, tok string) error {
	claims, err := s.parse(tok, false)
	if err != nil {
		return nil
	}
	return s.Revoke(ctx, claims.ID)
}

// Lookup returns the revocation record of jti.
func (s *Service) Lookup(ctx context.Context, jti string) (*Record, error) {
	return s.record(ctx, jti)
}

func (s *Service) record(ctx context.Context, jti string) (*Record, error) {
	data, err := s.store.Get(ctx, store.TokenKey(jti))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRevoked
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, ErrRevoked
	}
	return &rec, nil
}

func (s *Service) parse(tok string, checkExpiry bool) (*Claims, error) {
	if tok == "" {
		return nil, ErrSignatureInvalid
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
	}
	if checkExpiry {
		opts = append(opts, jwt.WithExpirationRequired())
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}, opts...)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	default:
		return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}

	if claims.ID == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing jti or session_id", ErrSignatureInvalid)
	}
	return claims, nil
}
