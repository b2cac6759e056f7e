package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/session"
	"github.com/teemow/mcpbridge/internal/store"
	"github.com/teemow/mcpbridge/internal/token"
)

// adminTimeout bounds a single administrative store operation.
const adminTimeout = 10 * time.Second

// adminEnv holds the components administrative commands operate on.
type adminEnv struct {
	store    store.Store
	sessions *session.Manager
	logger   *slog.Logger
}

func (e *adminEnv) Close() {
	_ = e.store.Close()
}

// adminConfig is shared by the session and token commands.
type adminConfig struct {
	Store    StoreConfig
	Security SecurityConfig
	BaseURL  string
}

func addAdminFlags(cmd *cobra.Command, c *adminConfig) {
	addStoreFlags(cmd, &c.Store)
	addSecurityFlags(cmd, &c.Security)
	cmd.Flags().StringVar(&c.BaseURL, "base-url", "", "Public base URL, used as default issuer and audience. Can also use MCP_BASE_URL or RESOURCE env var.")
}

func openAdminEnv(ctx context.Context, cmd *cobra.Command, c *adminConfig) (*adminEnv, error) {
	if err := loadStoreEnv(cmd, &c.Store); err != nil {
		return nil, err
	}
	if err := loadSecurityEnv(cmd, &c.Security); err != nil {
		return nil, err
	}
	envString(cmd, "base-url", &c.BaseURL, "MCP_BASE_URL", "RESOURCE")
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.Security.resolveDefaults(c.BaseURL)

	if c.Store.Type == storeTypeMemory {
		return nil, errors.New("administrative commands need a shared store; the memory store only lives inside a serve process")
	}

	logger, err := logging.NewLogger(cmd.ErrOrStderr(), logging.Options{Format: logging.FormatText})
	if err != nil {
		return nil, err
	}

	st, err := openStore(c.Store, nil, logger)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, adminTimeout)
	defer cancel()
	if err := st.Ping(pingCtx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("store unreachable: %w", err)
	}

	sessions, err := newSessionManager(st, c.Security, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &adminEnv{store: st, sessions: sessions, logger: logger}, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, adminTimeout)
}

func newSessionCmd() *cobra.Command {
	var cfg adminConfig

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and end sessions in the store",
	}

	existsCmd := &cobra.Command{
		Use:   "exists <session-id>",
		Short: "Report whether a session is live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			env, err := openAdminEnv(ctx, cmd, &cfg)
			if err != nil {
				return err
			}
			defer env.Close()

			exists, err := env.sessions.Exists(ctx, args[0])
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("session %s not found", logging.MaskValue(args[0], 4, 4, '*'))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session is live")
			return nil
		},
	}
	addAdminFlags(existsCmd, &cfg)

	destroyCmd := &cobra.Command{
		Use:   "destroy <session-id>",
		Short: "Destroy a session; its tokens stop verifying and its streams close",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			env, err := openAdminEnv(ctx, cmd, &cfg)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.sessions.Destroy(ctx, args[0]); err != nil {
				return err
			}
			env.logger.Info("session destroyed", logging.SessionHash(args[0]))
			return nil
		},
	}
	addAdminFlags(destroyCmd, &cfg)

	cmd.AddCommand(existsCmd, destroyCmd)
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		cfg   adminConfig
		scope []string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and revoke bearer tokens",
	}

	openTokens := func(ctx context.Context, cmd *cobra.Command) (*adminEnv, *token.Service, error) {
		env, err := openAdminEnv(ctx, cmd, &cfg)
		if err != nil {
			return nil, nil, err
		}
		tokens, err := newTokenService(env.store, env.sessions, cfg.Security, env.logger)
		if err != nil {
			env.Close()
			return nil, nil, err
		}
		return env, tokens, nil
	}

	issueCmd := &cobra.Command{
		Use:   "issue <session-id>",
		Short: "Issue a bearer token for an existing session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			env, tokens, err := openTokens(ctx, cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			exists, err := env.sessions.Exists(ctx, args[0])
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("session %s not found", logging.MaskValue(args[0], 4, 4, '*'))
			}

			issued, err := tokens.Issue(ctx, args[0], scope)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"access_token": issued.Token,
				"token_type":   "Bearer",
				"jti":          issued.JTI,
				"expires_at":   issued.ExpiresAt.UTC().Format(time.RFC3339),
			})
		},
	}
	issueCmd.Flags().StringSliceVar(&scope, "scope", nil, "Token scopes")
	addAdminFlags(issueCmd, &cfg)

	revokeCmd := &cobra.Command{
		Use:   "revoke <jti>",
		Short: "Revoke a token by its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			env, tokens, err := openTokens(ctx, cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			return tokens.Revoke(ctx, args[0])
		},
	}
	addAdminFlags(revokeCmd, &cfg)

	cmd.AddCommand(issueCmd, revokeCmd)
	return cmd
}
