// Package session_tools provides MCP tools that inspect and end the
// caller's own session.
//
// Available tools:
//   - session_status: state, timestamps and a masked id of the current session
//   - session_logout: destroys the current session
package session_tools
