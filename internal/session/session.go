package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is the sliding expiry window of a session.
const DefaultTTL = time.Hour

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrExpired is returned for a session whose window has passed but
	// which the store has not evicted yet. It matches ErrNotFound.
	ErrExpired = fmt.Errorf("%w: expired", ErrNotFound)

	// ErrCorrupted is returned after a record that could not be decoded or
	// decrypted was destroyed. It matches ErrNotFound.
	ErrCorrupted = fmt.Errorf("%w: corrupted record destroyed", ErrNotFound)

	// ErrNoCredentials rejects a hydrate call without a credential payload.
	ErrNoCredentials = errors.New("session: credentials must not be empty")
)

// State is the authentication state of a session.
type State string

const (
	StateAnonymous     State = "anonymous"
	StateAuthenticated State = "authenticated"
)

// Session is a decoded session record.
type Session struct {
	ID          string
	State       State
	Credentials []byte
	ConnectedAt time.Time
	LastActive  time.Time
	ExpiresAt   time.Time
}

// Authenticated reports whether upstream credentials are attached.
func (s *Session) Authenticated() bool {
	return s != nil && s.State == StateAuthenticated
}

// record is the persisted JSON form. Credentials hold the sealed payload.
type record struct {
	ID          string    `json:"id"`
	State       State     `json:"state"`
	Credentials string    `json:"credentials,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	LastActive  time.Time `json:"last_active"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func decodeRecord(data []byte) (*record, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if r.ID == "" {
		return nil, errors.New("record without id")
	}
	if r.State == StateAuthenticated && r.Credentials == "" {
		return nil, errors.New("authenticated record without credentials")
	}
	return &r, nil
}

func (r *record) encode() ([]byte, error) {
	return json.Marshal(r)
}

func (r *record) touch(now time.Time, ttl time.Duration) {
	r.LastActive = now
	r.ExpiresAt = now.Add(ttl)
}

func (r *record) expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
