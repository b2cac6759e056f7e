package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/store"
)

const maxCreateAttempts = 3

// errStale marks a record whose window has passed inside an update.
var errStale = errors.New("stale session record")

// errUndecodable marks a record that failed to decode inside an update.
var errUndecodable = errors.New("undecodable session record")

// Config configures a Manager.
type Config struct {
	// TTL is the sliding expiry window. Defaults to DefaultTTL.
	TTL time.Duration

	// Cipher seals credentials. Nil stores them base64-encoded only.
	Cipher *Cipher

	Logger *slog.Logger

	// Now overrides the clock. Intended for tests.
	Now func() time.Time
}

// Manager creates, refreshes, hydrates and destroys sessions in a store.
type Manager struct {
	store  store.Store
	ttl    time.Duration
	cipher *Cipher
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager on top of s.
func NewManager(s store.Store, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:  s,
		ttl:    cfg.TTL,
		cipher: cfg.Cipher,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
}

// TTL returns the sliding expiry window.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// NewID returns a fresh session identifier: a random UUID in hex without dashes.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Create stores a new anonymous session and returns its identifier.
func (m *Manager) Create(ctx context.Context) (string, error) {
	now := m.now()
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		r := &record{
			ID:          NewID(),
			State:       StateAnonymous,
			ConnectedAt: now,
		}
		r.touch(now, m.ttl)

		data, err := r.encode()
		if err != nil {
			return "", fmt.Errorf("failed to encode session: %w", err)
		}

		ok, err := m.store.SetNX(ctx, store.SessionKey(r.ID), data, m.ttl)
		if err != nil {
			return "", fmt.Errorf("failed to create session: %w", err)
		}
		if ok {
			m.logger.Debug("session created", logging.SessionHash(r.ID))
			return r.ID, nil
		}
	}
	return "", errors.New("failed to allocate a unique session id")
}

// Touch refreshes last activity and re-arms the TTL of an existing session.
func (m *Manager) Touch(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	var updated *record
	err := m.store.Update(ctx, store.SessionKey(id), func(current []byte) ([]byte, time.Duration, error) {
		r, err := decodeRecord(current)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", errUndecodable, err)
		}
		now := m.now()
		if r.expired(now) {
			return nil, 0, errStale
		}
		r.touch(now, m.ttl)
		next, err := r.encode()
		if err != nil {
			return nil, 0, err
		}
		updated = r
		return next, m.ttl, nil
	})
	if err := m.translate(ctx, id, "touch", err); err != nil {
		return nil, err
	}
	return m.open(ctx, updated)
}

// Hydrate attaches upstream credentials and marks the session authenticated.
// Re-hydrating overwrites the previous credentials.
func (m *Manager) Hydrate(ctx context.Context, id string, credentials []byte) error {
	if len(credentials) == 0 {
		return ErrNoCredentials
	}
	if id == "" {
		return ErrNotFound
	}

	sealed, err := m.cipher.Seal(credentials)
	if err != nil {
		return fmt.Errorf("failed to seal credentials: %w", err)
	}

	err = m.store.Update(ctx, store.SessionKey(id), func(current []byte) ([]byte, time.Duration, error) {
		r, err := decodeRecord(current)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", errUndecodable, err)
		}
		now := m.now()
		if r.expired(now) {
			return nil, 0, errStale
		}
		r.State = StateAuthenticated
		r.Credentials = sealed
		r.touch(now, m.ttl)
		next, err := r.encode()
		return next, m.ttl, err
	})
	if err := m.translate(ctx, id, "hydrate", err); err != nil {
		return err
	}

	m.logger.Info("session hydrated", logging.SessionHash(id))
	return nil
}

// Get returns the session without refreshing it.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	r, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.open(ctx, r)
}

// Exists reports whether the session is live, without decrypting credentials.
func (m *Manager) Exists(ctx context.Context, id string) (bool, error) {
	_, err := m.load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Destroy deletes the session. Destroying a missing session is not an error.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.store.Delete(ctx, store.SessionKey(id)); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	m.logger.Debug("session destroyed", logging.SessionHash(id))
	return nil
}

func (m *Manager) load(ctx context.Context, id string) (*record, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	data, err := m.store.Get(ctx, store.SessionKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	r, err := decodeRecord(data)
	if err != nil {
		return nil, m.discard(ctx, id, err)
	}
	if r.expired(m.now()) {
		return nil, ErrExpired
	}
	return r, nil
}

// open decrypts the credentials of r.
func (m *Manager) open(ctx context.Context, r *record) (*Session, error) {
	s := &Session{
		ID:          r.ID,
		State:       r.State,
		ConnectedAt: r.ConnectedAt,
		LastActive:  r.LastActive,
		ExpiresAt:   r.ExpiresAt,
	}
	if r.Credentials != "" {
		creds, err := m.cipher.Open(r.Credentials)
		if err != nil {
			return nil, m.discard(ctx, r.ID, err)
		}
		s.Credentials = creds
	}
	return s, nil
}

// translate maps store and update errors onto the session taxonomy.
func (m *Manager) translate(ctx context.Context, id, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, errStale):
		return ErrExpired
	case errors.Is(err, errUndecodable):
		return m.discard(ctx, id, err)
	default:
		return fmt.Errorf("failed to %s session: %w", op, err)
	}
}

// discard destroys a record that can no longer be read.
func (m *Manager) discard(ctx context.Context, id string, cause error) error {
	m.logger.Warn("destroying corrupted session record",
		logging.SessionHash(id),
		logging.Err(cause))
	if err := m.Destroy(ctx, id); err != nil {
		return fmt.Errorf("failed to destroy corrupted session: %w", err)
	}
	return ErrCorrupted
}
