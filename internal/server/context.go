package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/session"
	"github.com/teemow/mcpbridge/internal/upstream"
)

// ServerContext holds the dependencies tool handlers need. Tools never see
// the store directly: session state is reached through the session.Handle
// the transport attaches to each request context.
type ServerContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	sessions *session.Manager
	upstream *upstream.Client
	metrics  *instrumentation.Metrics
	audit    *instrumentation.AuditLogger
	logger   *slog.Logger
	mu       sync.RWMutex
	shutdown bool
}

// ServerContextConfig configures a ServerContext.
type ServerContextConfig struct {
	Sessions *session.Manager
	Upstream *upstream.Client

	// Metrics may be nil; a no-op recorder is used then.
	Metrics *instrumentation.Metrics

	// AuditLogger may be nil; tool invocations are then logged through Logger.
	AuditLogger *instrumentation.AuditLogger

	Logger *slog.Logger
}

// NewServerContext creates a new server context
func NewServerContext(ctx context.Context, cfg ServerContextConfig) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &instrumentation.Metrics{}
	}
	if cfg.AuditLogger == nil {
		cfg.AuditLogger = instrumentation.NewAuditLogger(cfg.Logger)
	}

	return &ServerContext{
		ctx:      shutdownCtx,
		cancel:   cancel,
		sessions: cfg.Sessions,
		upstream: cfg.Upstream,
		metrics:  cfg.Metrics,
		audit:    cfg.AuditLogger,
		logger:   cfg.Logger,
	}
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Sessions returns the session manager.
func (sc *ServerContext) Sessions() *session.Manager {
	return sc.sessions
}

// Upstream returns the upstream API client. It may be unconfigured.
func (sc *ServerContext) Upstream() *upstream.Client {
	return sc.upstream
}

// Metrics returns the metrics recorder. It is never nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// AuditLogger returns the tool audit logger.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	return sc.audit
}

// Logger returns the server logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the server context. Open streams observe the
// cancellation and close.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return nil
}
