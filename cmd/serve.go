package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/mcp/oauth"
	"github.com/teemow/mcpbridge/internal/resources"
	"github.com/teemow/mcpbridge/internal/server"
	"github.com/teemow/mcpbridge/internal/session"
	"github.com/teemow/mcpbridge/internal/store"
	"github.com/teemow/mcpbridge/internal/token"
	"github.com/teemow/mcpbridge/internal/tools"
	"github.com/teemow/mcpbridge/internal/tools/session_tools"
	"github.com/teemow/mcpbridge/internal/tools/upstream_tools"
	"github.com/teemow/mcpbridge/internal/upstream"
)

const (
	serverName = "mcpbridge"

	// shutdownTimeout bounds graceful shutdown of all listeners.
	shutdownTimeout = 30 * time.Second
)

func newServeCmd() *cobra.Command {
	var cfg ServeConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP bridge",
		Long: `Start the Model Context Protocol bridge.

One logical session can be driven over several transports:
  /mcp               streamable HTTP (Mcp-Session-Id header)
  /sse, /messages    event stream plus POST endpoint (session_id query parameter)
  /ws                websocket (session_id query parameter)
  /http              stateless streamable HTTP behind a bearer token

Clients obtain bearer tokens through the PKCE authorization code flow on
/authorize and /token. Sessions, authorization codes and token records live
in Redis (--store memory is for development only).

Upstream login:
  Set UPSTREAM_CLIENT_ID and either UPSTREAM_ISSUER (OIDC discovery) or
  UPSTREAM_AUTH_URL and UPSTREAM_TOKEN_URL. Without a provider the /redirect
  endpoint accepts upstream tokens directly.

Every flag can also be set through the environment variable named in its
help text. Flags win over the environment.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadServeEnv(cmd, &cfg); err != nil {
				return err
			}
			cfg.resolveDefaults()
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.Host, "host", "0.0.0.0", "Listen host. Can also use MCP_HOST env var.")
	cmd.Flags().IntVar(&cfg.Port, "port", 6901, "Listen port. Can also use MCP_PORT env var.")
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "", "Public base URL (default: http://localhost:<port>). Must be HTTPS unless it is a loopback address. Can also use MCP_BASE_URL or RESOURCE env var.")
	cmd.Flags().BoolVar(&cfg.Debug, "debug", false, "Enable debug logging. Can also use DEBUG env var.")
	cmd.Flags().StringVar(&cfg.LogFile, "log-file", "", "Log file path (default: stderr). Can also use LOG_FILE env var.")
	cmd.Flags().StringVar(&cfg.LogFormat, "log-format", logging.FormatJSON, "Log format: json or text. Can also use LOG_FORMAT env var.")
	cmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", ":9090", "Metrics server address; empty disables it. Can also use METRICS_ADDR env var.")
	cmd.Flags().DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", server.DefaultHeartbeatInterval, "Interval of stream keepalives and session checks. Can also use HEARTBEAT_INTERVAL env var.")
	cmd.Flags().StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", nil, "Origins allowed to open websocket streams (default: any). Can also use ALLOWED_ORIGINS env var.")
	cmd.Flags().Float64Var(&cfg.RateLimit, "rate-limit", oauth.DefaultRateLimitRate, "OAuth endpoint requests per second per client IP; 0 disables. Can also use OAUTH_RATE_LIMIT env var.")
	cmd.Flags().BoolVar(&cfg.TrustProxy, "trust-proxy", false, "Trust X-Forwarded-For and X-Real-IP for rate limiting. Can also use TRUST_PROXY env var.")

	addStoreFlags(cmd, &cfg.Store)
	addSecurityFlags(cmd, &cfg.Security)

	return cmd
}

func runServe(parent context.Context, cfg ServeConfig) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, closer, err := logging.Setup(logging.Options{
		File:   cfg.LogFile,
		Format: cfg.LogFormat,
		Debug:  cfg.Debug,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	if err := server.ValidateBaseURL(cfg.BaseURL); err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error during instrumentation shutdown", logging.Err(err))
		}
	}()

	var metrics *instrumentation.Metrics
	var storeRecorder store.Recorder
	if provider.Enabled() {
		metrics = provider.Metrics()
		storeRecorder = metrics
	}

	st, err := openStore(cfg.Store, storeRecorder, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := pingStore(ctx, st, startupPingTimeout, logger); err != nil {
		return err
	}

	sessions, err := newSessionManager(st, cfg.Security, logger)
	if err != nil {
		return err
	}
	tokens, err := newTokenService(st, sessions, cfg.Security, logger)
	if err != nil {
		return err
	}

	apiClient, err := upstream.NewClient(upstream.ClientConfig{
		BaseURL: cfg.API.BaseURL,
		APIKey:  cfg.API.APIKey,
	})
	if err != nil {
		return err
	}
	if !apiClient.Configured() {
		logger.Info("no upstream API configured; upstream tools will report an error")
	}

	sc := server.NewServerContext(ctx, server.ServerContextConfig{
		Sessions:    sessions,
		Upstream:    apiClient,
		Metrics:     metrics,
		AuditLogger: instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging),
		Logger:      logger,
	})
	defer func() { _ = sc.Shutdown() }()

	authz, err := newAuthorizationServer(ctx, cfg, st, sessions, tokens, logger)
	if err != nil {
		return err
	}
	if metrics != nil {
		authz.SetRecorder(metrics)
	}
	oauthHandler := oauth.NewHandler(authz)
	defer oauthHandler.Stop()

	mcpSrv := mcpserver.NewMCPServer(serverName, version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false),
	)
	registry, err := newToolRegistry(sc)
	if err != nil {
		return err
	}
	registry.Install(mcpSrv, sc)
	resources.RegisterSessionResources(mcpSrv)

	health := server.NewHealthChecker(sc, st, version)
	bridge, err := server.New(server.Config{
		MCPServer:         mcpSrv,
		OAuth:             oauthHandler,
		Context:           sc,
		Health:            health,
		HeartbeatInterval: cfg.HeartbeatInterval,
		AllowedOrigins:    cfg.AllowedOrigins,
	})
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}
	health.SetStreamCounter(bridge)

	httpServer := &http.Server{
		Handler:           bridge.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr(), err)
	}

	metricsServer, metricsLn, err := startMetricsListener(cfg.MetricsAddr, provider, logger)
	if err != nil {
		_ = ln.Close()
		return err
	}

	logger.Info("MCP bridge started",
		slog.String("addr", ln.Addr().String()),
		slog.String("base_url", cfg.BaseURL),
		slog.String("store", cfg.Store.Type),
		slog.Any("tools", registry.Names()),
		slog.Bool("upstream_login", cfg.Upstream.ClientID != ""))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
		return nil
	})
	if metricsServer != nil {
		g.Go(func() error {
			if err := metricsServer.Serve(metricsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server stopped with error: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		health.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Streams end with the server context; their handlers return and
		// the HTTP server can drain.
		_ = sc.Shutdown()
		if err := bridge.Shutdown(shutdownCtx); err != nil {
			logger.Warn("streams did not close in time", logging.Err(err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error during HTTP server shutdown", logging.Err(err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("error during metrics server shutdown", logging.Err(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("MCP bridge stopped")
	return nil
}

// startMetricsListener binds the metrics server when a Prometheus exporter
// is active. It returns nil values when metrics are not served.
func startMetricsListener(addr string, provider *instrumentation.Provider, logger *slog.Logger) (*server.MetricsServer, net.Listener, error) {
	if addr == "" || !provider.Enabled() {
		return nil, nil, nil
	}
	if provider.PrometheusHandler() == nil {
		logger.Info("metrics exporter is not prometheus; metrics server disabled")
		return nil, nil, nil
	}

	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    addr,
		InstrumentationProvider: provider,
		Logger:                  logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metrics server: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return metricsServer, ln, nil
}

// newAuthorizationServer builds the PKCE authorization server and, when a
// provider is configured, its upstream login client.
func newAuthorizationServer(ctx context.Context, cfg ServeConfig, st store.Store, sessions *session.Manager, tokens *token.Service, logger *slog.Logger) (*oauth.Server, error) {
	oauthConfig := oauth.Config{
		BaseURL:  cfg.BaseURL,
		Resource: cfg.BaseURL,
		Realm:    cfg.Security.BearerRealm,
		RateLimit: oauth.RateLimitConfig{
			Rate:       cfg.RateLimit,
			TrustProxy: cfg.TrustProxy,
		},
		Logger: logger,
	}

	var provider *oauth.Upstream
	if cfg.Upstream.ClientID != "" {
		upstreamConfig := oauth.UpstreamConfig{
			ClientID:     cfg.Upstream.ClientID,
			ClientSecret: cfg.Upstream.ClientSecret,
			IssuerURL:    cfg.Upstream.IssuerURL,
			AuthURL:      cfg.Upstream.AuthURL,
			TokenURL:     cfg.Upstream.TokenURL,
			Scopes:       cfg.Upstream.Scopes,
			RedirectURL:  cfg.BaseURL + oauth.PathRedirect,
		}
		oauthConfig.Upstream = &upstreamConfig

		var err error
		provider, err = oauth.NewUpstream(ctx, upstreamConfig, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to configure upstream login: %w", err)
		}
	} else {
		logger.Warn("no upstream identity provider configured; /redirect accepts upstream tokens directly")
	}

	authz, err := oauth.NewServer(oauthConfig, st, sessions, tokens, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization server: %w", err)
	}
	return authz, nil
}

// newToolRegistry registers every tool the bridge exposes.
func newToolRegistry(sc *server.ServerContext) (*tools.Registry, error) {
	registry := tools.NewRegistry()

	registrations := []struct {
		name     string
		register func() error
	}{
		{name: "session", register: func() error { return session_tools.Register(registry) }},
		{name: "upstream", register: func() error { return upstream_tools.Register(registry, sc) }},
	}
	for _, reg := range registrations {
		if err := reg.register(); err != nil {
			return nil, fmt.Errorf("failed to register %s tools: %w", reg.name, err)
		}
	}
	return registry, nil
}
