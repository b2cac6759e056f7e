package session_tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/server"
	"github.com/teemow/mcpbridge/internal/tools"
	"github.com/teemow/mcpbridge/internal/tools/common"
)

// Status is the session_status result.
type Status struct {
	SessionID     string `json:"session_id"`
	State         string `json:"state"`
	Authenticated bool   `json:"authenticated"`
	Transport     string `json:"transport,omitempty"`
	User          string `json:"user,omitempty"`
	ConnectedAt   string `json:"connected_at"`
	LastActive    string `json:"last_active"`
	ExpiresAt     string `json:"expires_at"`
}

// maskSessionID keeps enough of the id to tell sessions apart in a
// conversation without disclosing it.
func maskSessionID(id string) string {
	return logging.MaskValue(id, 4, 4, '*')
}

// Register adds the session tools to r.
func Register(r *tools.Registry) error {
	statusTool := mcp.NewTool("session_status",
		mcp.WithDescription("Report the state of the current session: whether upstream credentials are attached and when the session expires"),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	if err := r.Register(tools.Tool{Definition: statusTool, Handler: handleStatus}); err != nil {
		return fmt.Errorf("failed to register session_status: %w", err)
	}

	logoutTool := mcp.NewTool("session_logout",
		mcp.WithDescription("End the current session. Attached upstream credentials are discarded and open streams are closed."),
		mcp.WithDestructiveHintAnnotation(true),
	)
	if err := r.Register(tools.Tool{Definition: logoutTool, Handler: handleLogout}); err != nil {
		return fmt.Errorf("failed to register session_logout: %w", err)
	}

	return nil
}

// CurrentStatus describes the session attached to ctx.
func CurrentStatus(ctx context.Context) (Status, error) {
	h, err := common.SessionHandle(ctx)
	if err != nil {
		return Status{}, err
	}

	s := h.Session()
	return Status{
		SessionID:     maskSessionID(s.ID),
		State:         string(s.State),
		Authenticated: s.Authenticated(),
		Transport:     server.TransportFromContext(ctx),
		User:          common.UserEmail(ctx),
		ConnectedAt:   s.ConnectedAt.UTC().Format(time.RFC3339),
		LastActive:    s.LastActive.UTC().Format(time.RFC3339),
		ExpiresAt:     s.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}

func handleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := CurrentStatus(ctx)
	if err != nil {
		return common.ErrorResult(common.MessageSessionExpired), nil
	}
	return common.JSONResult(status)
}

func handleLogout(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, err := common.SessionHandle(ctx)
	if err != nil {
		return common.ErrorResult(common.MessageSessionExpired), nil
	}

	if err := h.Destroy(ctx); err != nil {
		return common.ErrorResult("Failed to end session"), nil
	}

	return common.JSONResult(map[string]string{
		"status":  "success",
		"message": "Session ended. Please login again to continue.",
	})
}
