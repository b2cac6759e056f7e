package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/session"
)

// sessionOpTimeout bounds store calls made outside a request context.
const sessionOpTimeout = 5 * time.Second

var errMissingSessionID = errors.New("missing session id")

// storeSessionIDManager backs streamable HTTP session ids with the session
// store, so an id issued on initialize is the same session every other
// transport resolves.
type storeSessionIDManager struct {
	b *Bridge
}

// Generate creates a session. When the store cannot be reached the id is
// returned unpersisted and the client's next request fails as unknown.
func (m *storeSessionIDManager) Generate() string {
	ctx, cancel := context.WithTimeout(m.b.sc.Context(), sessionOpTimeout)
	defer cancel()

	id, err := m.b.sessions.Create(ctx)
	m.b.recordSession(ctx, instrumentation.OperationCreate, err)
	if err != nil {
		m.b.logger.Error("failed to create session for initialize", logging.Err(err))
		return session.NewID()
	}
	return id
}

// Validate reports unknown ids as terminated.
func (m *storeSessionIDManager) Validate(id string) (bool, error) {
	if id == "" {
		return false, errMissingSessionID
	}
	ctx, cancel := context.WithTimeout(m.b.sc.Context(), sessionOpTimeout)
	defer cancel()

	exists, err := m.b.sessions.Exists(ctx, id)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// Terminate destroys the session.
func (m *storeSessionIDManager) Terminate(id string) (bool, error) {
	ctx, cancel := context.WithTimeout(m.b.sc.Context(), sessionOpTimeout)
	defer cancel()

	err := m.b.sessions.Destroy(ctx, id)
	m.b.recordSession(ctx, instrumentation.OperationDestroy, err)
	if err != nil {
		return false, err
	}
	if st, ok := m.b.streams.get(id); ok {
		st.expire()
	}
	return false, nil
}

func (b *Bridge) newStreamableServer() *mcpserver.StreamableHTTPServer {
	return mcpserver.NewStreamableHTTPServer(b.mcp,
		mcpserver.WithEndpointPath(PathStreamable),
		mcpserver.WithSessionIdManager(&storeSessionIDManager{b: b}),
		mcpserver.WithHTTPContextFunc(b.streamableContext),
		mcpserver.WithHeartbeatInterval(b.heartbeat),
		mcpserver.WithLogger(logging.NewSlogAdapter(b.logger)),
	)
}

// resolveStreamable touches the session named by the Mcp-Session-Id header
// and attaches it to the request. Unknown sessions get 404 before the
// protocol core sees the request.
func (b *Bridge) resolveStreamable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithTransport(r.Context(), instrumentation.TransportStreamable)

		if id := r.Header.Get(mcpserver.HeaderKeySessionID); id != "" {
			sess, err := b.sessions.Touch(ctx, id)
			b.recordSession(ctx, instrumentation.OperationTouch, err)
			if err != nil {
				b.oauth.WriteError(w, err)
				return
			}
			ctx = session.NewContext(ctx, session.NewHandle(b.sessions, sess))
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// streamableContext attaches the session created by initialize, which the
// header middleware could not see yet.
func (b *Bridge) streamableContext(ctx context.Context, _ *http.Request) context.Context {
	if _, ok := session.FromContext(ctx); ok {
		return ctx
	}
	cs := mcpserver.ClientSessionFromContext(ctx)
	if cs == nil || cs.SessionID() == "" {
		return ctx
	}
	sess, err := b.sessions.Get(ctx, cs.SessionID())
	if err != nil {
		return ctx
	}
	return session.NewContext(ctx, session.NewHandle(b.sessions, sess))
}
