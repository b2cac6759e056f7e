// Package cmd implements the command-line interface for mcpbridge.
//
// This package provides the following commands:
//   - serve: Run the bridge with its authorization server and transports
//   - session: Check or destroy sessions in the shared store
//   - token: Issue or revoke bearer tokens for existing sessions
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for all MCP tools
//
// Every flag of serve, session and token falls back to an environment
// variable when it is not set on the command line.
package cmd
