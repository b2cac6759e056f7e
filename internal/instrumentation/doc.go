// Package instrumentation provides OpenTelemetry metrics and tracing for the
// MCP bridge.
//
// # Metrics
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, normalized path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//
// Transport Metrics:
//   - mcp_active_streams: Open event-stream and websocket connections by transport
//   - mcp_stream_messages_total: Messages relayed by transport and direction
//
// Session and Authorization Metrics:
//   - session_operations_total: Session lifecycle operations by operation and result
//   - oauth_operations_total: Authorize and exchange attempts by result (success or OAuth error code)
//   - token_verifications_total: Bearer token verifications by result
//
// Store Metrics:
//   - store_operations_total: Credential store operations by operation and status
//   - store_operation_duration_seconds: Histogram of store latencies
//
// Upstream Metrics:
//   - upstream_requests_total: Upstream API calls by operation and status
//   - upstream_request_duration_seconds: Histogram of upstream latencies
//
// MCP Tool Metrics:
//   - mcp_tool_invocations_total: Counter of tool invocations by tool name and status
//   - mcp_tool_duration_seconds: Histogram of tool execution durations
//
// A zero Metrics value records nothing, so callers never need a nil check
// when instrumentation is disabled.
//
// # Tracing
//
// Spans are created for HTTP request handling (via otelhttp), tool
// invocations (tool.<name>) and upstream calls (upstream.<operation>).
//
// # Configuration
//
// DefaultConfig reads the environment:
//   - MCPBRIDGE_INSTRUMENTATION_ENABLED: metrics and tracing on or off (default: true)
//   - MCPBRIDGE_METRICS_EXPORTER: prometheus, otlp or stdout (default: prometheus)
//   - MCPBRIDGE_TRACING_EXPORTER: otlp, stdout or none (default: none)
//   - MCPBRIDGE_METRICS_DETAILED_LABELS: add the caller's email domain to tool metrics
//   - MCPBRIDGE_AUDIT_LOG_ENABLED, MCPBRIDGE_AUDIT_LOG_INCLUDE_PII: tool audit log
//   - OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE: collector address
//   - OTEL_TRACES_SAMPLER_ARG: sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME, OTEL_SERVICE_INSTANCE_ID: resource attributes
//
// With the prometheus exporter each Provider has its own registry, served by
// PrometheusHandler on the metrics listener.
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	metrics := provider.Metrics()
//	metrics.RecordToolInvocation(ctx, "session_status", instrumentation.StatusSuccess, time.Since(start))
package instrumentation
