// Package tools holds the explicit tool registry.
//
// Tool packages register their tools on a Registry at startup:
//
//	reg := tools.NewRegistry()
//	if err := session_tools.Register(reg); err != nil { ... }
//	if err := upstream_tools.Register(reg, sc); err != nil { ... }
//	reg.Install(mcpServer, sc)
//
// Install wraps every handler with common.InstrumentedToolHandlerWithOperation
// so tool code never deals with metrics or audit logging itself. Handlers
// reach the caller's session through the session.Handle on their context.
package tools
