package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("store: key not found")

	// ErrUnavailable wraps every failure to reach the backing store.
	// Callers treat it as transient.
	ErrUnavailable = errors.New("store: unavailable")

	// ErrConflict is returned by Update when the record kept changing
	// underneath the optimistic transaction.
	ErrConflict = errors.New("store: concurrent modification")
)

// Key namespaces.
const (
	NamespaceSession    = "session:"
	NamespaceAuthCode   = "authcode:"
	NamespaceToken      = "token:"
	NamespaceLoginState = "loginstate:"
)

// SessionKey returns the key of a session record.
func SessionKey(id string) string { return NamespaceSession + id }

// AuthCodeKey returns the key of an authorization code record.
func AuthCodeKey(code string) string { return NamespaceAuthCode + code }

// TokenKey returns the key of a token revocation record.
func TokenKey(jti string) string { return NamespaceToken + jti }

// LoginStateKey returns the key of an upstream login state.
func LoginStateKey(state string) string { return NamespaceLoginState + state }

// UpdateFunc computes the replacement for an existing value.
// A zero ttl keeps the remaining TTL of the key.
// Returning an error aborts the update and the error is passed to the caller unchanged.
type UpdateFunc func(current []byte) (next []byte, ttl time.Duration, err error)

// Store is a key-value store with per-key expiry.
//
// Implementations must make Take and Update atomic with respect to every
// other operation on the same key.
type Store interface {
	// Set writes value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX writes value only if key does not exist. It reports whether the write happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Get returns the value under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Take returns the value under key and deletes it in one step.
	// Of several concurrent callers at most one receives the value.
	Take(ctx context.Context, key string) ([]byte, error)

	// Update atomically replaces the value under key with the result of fn.
	// It returns ErrNotFound without calling fn when the key does not exist,
	// so an update can never resurrect a deleted record.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
