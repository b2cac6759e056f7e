package session

import (
	"context"
	"sync"
)

type contextKey struct{}

// Handle is the per-request view of a resolved session. It carries the
// snapshot taken when the transport resolved the session and routes every
// mutation through the Manager.
type Handle struct {
	manager *Manager

	mu      sync.RWMutex
	session *Session
}

// NewHandle binds a resolved session to its manager.
func NewHandle(m *Manager, s *Session) *Handle {
	return &Handle{manager: m, session: s}
}

// ID returns the session identifier.
func (h *Handle) ID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.session.ID
}

// Session returns the most recent snapshot.
func (h *Handle) Session() *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.session
}

// Refresh touches the session and updates the snapshot.
func (h *Handle) Refresh(ctx context.Context) (*Session, error) {
	s, err := h.manager.Touch(ctx, h.ID())
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.session = s
	h.mu.Unlock()
	return s, nil
}

// Hydrate attaches credentials to the session and refreshes the snapshot.
func (h *Handle) Hydrate(ctx context.Context, credentials []byte) error {
	if err := h.manager.Hydrate(ctx, h.ID(), credentials); err != nil {
		return err
	}
	_, err := h.Refresh(ctx)
	return err
}

// Destroy deletes the session.
func (h *Handle) Destroy(ctx context.Context) error {
	return h.manager.Destroy(ctx, h.ID())
}

// NewContext returns a context carrying h.
func NewContext(ctx context.Context, h *Handle) context.Context {
	return context.WithValue(ctx, contextKey{}, h)
}

// FromContext returns the session handle attached by the transport.
func FromContext(ctx context.Context) (*Handle, bool) {
	h, ok := ctx.Value(contextKey{}).(*Handle)
	return h, ok && h != nil
}
