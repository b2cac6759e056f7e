package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/mcp/oauth"
	"github.com/teemow/mcpbridge/internal/session"
)

// Endpoint paths served by the bridge.
const (
	PathStreamable = "/mcp"
	PathSSE        = "/sse"
	PathMessages   = "/messages"
	PathWebSocket  = "/ws"
	PathHTTP       = "/http"
)

// DefaultHeartbeatInterval is how often an open stream re-checks its
// session and sends a keep-alive.
const DefaultHeartbeatInterval = 30 * time.Second

// maxMessageBytes caps a single inbound protocol message.
const maxMessageBytes = 4 << 20

type transportKey struct{}

// WithTransport records the transport a request arrived on.
func WithTransport(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, transportKey{}, kind)
}

// TransportFromContext returns the transport recorded by WithTransport.
func TransportFromContext(ctx context.Context) string {
	kind, _ := ctx.Value(transportKey{}).(string)
	return kind
}

// Config configures a Bridge.
type Config struct {
	MCPServer *mcpserver.MCPServer
	OAuth     *oauth.Handler
	Context   *ServerContext
	Health    *HealthChecker

	// HeartbeatInterval defaults to DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string
}

// Bridge serves the protocol core over every supported transport. All
// transports resolve to the same store-backed sessions, so one logical
// session can be driven from several connection kinds.
type Bridge struct {
	mcp       *mcpserver.MCPServer
	oauth     *oauth.Handler
	sc        *ServerContext
	sessions  *session.Manager
	health    *HealthChecker
	metrics   *instrumentation.Metrics
	logger    *slog.Logger
	heartbeat time.Duration
	origins   []string

	streams    *registry
	streamable *mcpserver.StreamableHTTPServer
	stateless  *mcpserver.StreamableHTTPServer
}

// New creates a Bridge.
func New(cfg Config) (*Bridge, error) {
	if cfg.MCPServer == nil {
		return nil, errors.New("MCP server is required")
	}
	if cfg.OAuth == nil {
		return nil, errors.New("OAuth handler is required")
	}
	if cfg.Context == nil || cfg.Context.Sessions() == nil {
		return nil, errors.New("server context with a session manager is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}

	b := &Bridge{
		mcp:       cfg.MCPServer,
		oauth:     cfg.OAuth,
		sc:        cfg.Context,
		sessions:  cfg.Context.Sessions(),
		health:    cfg.Health,
		metrics:   cfg.Context.Metrics(),
		logger:    cfg.Context.Logger(),
		heartbeat: cfg.HeartbeatInterval,
		origins:   cfg.AllowedOrigins,
		streams:   newRegistry(),
	}
	b.streamable = b.newStreamableServer()
	b.stateless = mcpserver.NewStreamableHTTPServer(b.mcp,
		mcpserver.WithEndpointPath(PathHTTP),
		mcpserver.WithStateLess(true),
		mcpserver.WithLogger(logging.NewSlogAdapter(b.logger)),
	)
	return b, nil
}

// Handler returns the HTTP handler serving every bridge endpoint, the OAuth
// endpoints and the health checks.
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()

	b.oauth.Register(mux)

	mux.Handle(PathStreamable, b.resolveStreamable(b.streamable))
	mux.HandleFunc(PathSSE, b.ServeSSE)
	mux.HandleFunc(PathMessages, b.ServeMessages)
	mux.HandleFunc(PathWebSocket, b.ServeWebSocket)
	mux.Handle(PathHTTP, b.oauth.BearerAuth(b.markTransport(instrumentation.TransportHTTP, b.stateless)))

	if b.health != nil {
		b.health.RegisterHealthEndpoints(mux)
	}

	return b.instrument(mux)
}

// ActiveStreams returns the number of open event-stream and websocket
// connections.
func (b *Bridge) ActiveStreams() int {
	return b.streams.len()
}

// Shutdown closes every open stream. Queued replies are flushed before the
// connections end.
func (b *Bridge) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, st := range b.streams.snapshot() {
			st.cancel()
		}
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) markTransport(kind string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithTransport(r.Context(), kind)))
	})
}

// resolveSession touches the requested session, or creates one when id is
// empty. An unknown id fails with session.ErrNotFound.
func (b *Bridge) resolveSession(ctx context.Context, id string) (*session.Handle, error) {
	if id == "" {
		created, err := b.sessions.Create(ctx)
		b.recordSession(ctx, instrumentation.OperationCreate, err)
		if err != nil {
			return nil, err
		}
		id = created
	}
	sess, err := b.sessions.Touch(ctx, id)
	b.recordSession(ctx, instrumentation.OperationTouch, err)
	if err != nil {
		return nil, err
	}
	return session.NewHandle(b.sessions, sess), nil
}

func (b *Bridge) recordSession(ctx context.Context, op string, err error) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	b.metrics.RecordSessionOperation(ctx, op, status)
}

// openStream registers a new stream for h and starts its supervisor. A
// stream already open for the same session is cancelled and replaced.
func (b *Bridge) openStream(parent context.Context, h *session.Handle, transport string) *stream {
	st := newStream(parent, h, transport)
	stop := context.AfterFunc(b.sc.Context(), st.cancel)

	b.streams.attach(st, func(prev *stream) {
		if prev != nil {
			prev.cancel()
			b.mcp.UnregisterSession(context.Background(), prev.sessionID)
			b.logger.Info("stream replaced",
				logging.SessionHash(st.sessionID),
				slog.String("previous_transport", prev.transport),
				logging.Transport(transport))
		}
		if err := b.mcp.RegisterSession(st.ctx, st); err != nil {
			// a streamable client holds the id; its notifications go there
			b.logger.Debug("client session not registered",
				logging.SessionHash(st.sessionID), logging.Err(err))
		}
	})

	b.metrics.IncrementActiveStreams(parent, transport)
	b.logger.Info("stream opened", logging.SessionHash(st.sessionID), logging.Transport(transport))

	go func() {
		defer stop()
		b.supervise(st)
	}()
	return st
}

// closeStream cancels st, waits for its supervisor and releases it.
func (b *Bridge) closeStream(st *stream) {
	st.close()
	b.streams.detach(st, func() {
		b.mcp.UnregisterSession(context.Background(), st.sessionID)
	})
	b.metrics.DecrementActiveStreams(context.Background(), st.transport)
	b.logger.Info("stream closed", logging.SessionHash(st.sessionID), logging.Transport(st.transport))
}

// supervise is the only goroutine that reads inbound and writes outbound.
// It exits when the stream is cancelled or its session is gone, closing
// outbound so the writer can flush what is queued and end the response.
func (b *Bridge) supervise(st *stream) {
	defer close(st.done)
	defer close(st.outbound)

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-st.ctx.Done():
			return
		case <-st.expired:
			b.logger.Info("session ended, closing stream", logging.SessionHash(st.sessionID))
			return
		case msg := <-st.inbound:
			b.dispatch(st, msg)
		case n := <-st.notifications:
			b.forward(st, n)
		case <-ticker.C:
			b.checkSession(st)
		}
	}
}

// dispatch runs one inbound message through the protocol core with the
// session handle attached and queues the reply.
func (b *Bridge) dispatch(st *stream, msg json.RawMessage) {
	ctx := b.mcp.WithContext(st.ctx, st)
	ctx = session.NewContext(ctx, st.handle)
	ctx = WithTransport(ctx, st.transport)

	resp := b.mcp.HandleMessage(ctx, msg)
	if resp == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		b.logger.Error("failed to encode reply", logging.SessionHash(st.sessionID), logging.Err(err))
		return
	}
	if st.send(data) {
		b.metrics.RecordStreamMessage(ctx, st.transport, instrumentation.DirectionOutbound)
	}
}

func (b *Bridge) forward(st *stream, n any) {
	data, err := json.Marshal(n)
	if err != nil {
		b.logger.Error("failed to encode notification", logging.SessionHash(st.sessionID), logging.Err(err))
		return
	}
	if st.send(data) {
		b.metrics.RecordStreamMessage(st.ctx, st.transport, instrumentation.DirectionOutbound)
	}
}

// checkSession expires the stream when its session no longer exists. Store
// errors keep the stream open; the next heartbeat checks again.
func (b *Bridge) checkSession(st *stream) {
	exists, err := b.sessions.Exists(st.ctx, st.sessionID)
	if err != nil {
		if st.ctx.Err() == nil {
			b.logger.Warn("session check failed", logging.SessionHash(st.sessionID), logging.Err(err))
		}
		return
	}
	if !exists {
		st.expire()
	}
}
