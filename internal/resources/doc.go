// Package resources provides MCP resources that expose session data.
// Resources are read-only documents MCP clients fetch by URI. They are
// resolved against the session attached to the request context, so each
// client only ever reads its own session.
package resources
