package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mcpbridge/internal/tools/session_tools"
)

// SessionURI identifies the resource describing the caller's session.
const SessionURI = "session://current"

// RegisterSessionResources registers the resources scoped to the calling
// session.
func RegisterSessionResources(s *mcpserver.MCPServer) {
	sessionResource := mcp.NewResource(
		SessionURI,
		"Current Session",
		mcp.WithResourceDescription("State of the session this connection is bound to"),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(sessionResource, handleSession)
}

func handleSession(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	status, err := session_tools.CurrentStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("no session: %w", err)
	}

	jsonData, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session status: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}
