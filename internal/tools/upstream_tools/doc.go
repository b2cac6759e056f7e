// Package upstream_tools provides MCP tools that call the upstream API on
// behalf of the session owner.
//
// Calls carry the credentials hydrated into the session during the login
// round trip. Anonymous sessions are told to log in again.
//
// Available tools:
//   - upstream_get: GET one or more resource paths
package upstream_tools
