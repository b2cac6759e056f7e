// Package server bridges Model Context Protocol traffic from several
// connection kinds onto one protocol core.
//
// # Transports
//
// A Bridge serves:
//   - /mcp: streamable HTTP, session ids issued and validated by the session store
//   - /sse and /messages: an event stream per session plus a POST endpoint for requests
//   - /ws: a websocket carrying one protocol message per text frame
//   - /http: stateless streamable HTTP behind bearer token authentication
//
// Every transport resolves its session before the protocol core sees a
// message and attaches a session.Handle to the request context. Tool
// handlers read the session from there.
//
// # Streams
//
// Event-stream and websocket connections each get a stream: an inbound
// queue, an outbound queue and one supervisor goroutine that dispatches
// inbound messages in arrival order. The supervisor re-checks the session on
// every heartbeat and closes the stream once the session is gone. A session
// has at most one open stream; opening another replaces it.
//
// # Operations
//
// HealthChecker serves the service banner and the Kubernetes health checks.
// MetricsServer exposes Prometheus metrics on a separate listener.
package server
