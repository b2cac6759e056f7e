package common

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

type statusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorResult returns a tool error carrying {"status":"error","message":msg}.
func ErrorResult(msg string) *mcp.CallToolResult {
	data, _ := json.Marshal(statusMessage{Status: "error", Message: msg})
	return mcp.NewToolResultError(string(data))
}

// JSONResult returns v encoded as indented JSON text.
func JSONResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
