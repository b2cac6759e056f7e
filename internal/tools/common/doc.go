// Package common provides shared helpers for MCP tool implementations: the
// instrumentation wrapper every registered handler runs through, access to
// the session of the current request, and result encoding.
package common
