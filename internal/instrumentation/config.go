package instrumentation

import (
	"fmt"
	"os"
	"slices"
	"strconv"
)

// Environment variables read by DefaultConfig. The OTEL_ names follow the
// OpenTelemetry conventions so a collector sidecar configures the bridge the
// same way it configures everything else.
const (
	EnvEnabled         = "MCPBRIDGE_INSTRUMENTATION_ENABLED"
	EnvMetricsExporter = "MCPBRIDGE_METRICS_EXPORTER"
	EnvTracingExporter = "MCPBRIDGE_TRACING_EXPORTER"
	EnvDetailedLabels  = "MCPBRIDGE_METRICS_DETAILED_LABELS"
	EnvAuditEnabled    = "MCPBRIDGE_AUDIT_LOG_ENABLED"
	EnvAuditIncludePII = "MCPBRIDGE_AUDIT_LOG_INCLUDE_PII"

	EnvServiceName     = "OTEL_SERVICE_NAME"
	EnvServiceInstance = "OTEL_SERVICE_INSTANCE_ID"
	EnvOTLPEndpoint    = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvOTLPInsecure    = "OTEL_EXPORTER_OTLP_INSECURE"
	EnvSamplingRate    = "OTEL_TRACES_SAMPLER_ARG"
)

// Exporter names.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

var (
	metricsExporters = []string{ExporterPrometheus, ExporterOTLP, ExporterStdout}
	tracingExporters = []string{ExporterOTLP, ExporterStdout, ExporterNone}
)

// Config configures the bridge's metrics, traces and tool audit log.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// ServiceInstanceID defaults to the hostname.
	ServiceInstanceID string

	// Enabled turns metrics and tracing on. When false the provider hands
	// out a no-op Metrics and PrometheusHandler returns nil.
	Enabled bool

	// MetricsExporter is one of prometheus, otlp or stdout.
	MetricsExporter string

	// TracingExporter is one of otlp, stdout or none.
	TracingExporter string

	// OTLPEndpoint is host:port of the collector, without a scheme.
	OTLPEndpoint string

	// OTLPInsecure sends OTLP over plain HTTP. Traces carry hashed session
	// ids and tool names, so keep TLS outside local development.
	OTLPInsecure bool

	// TraceSamplingRate is the parent-based ratio, 0.0 to 1.0.
	TraceSamplingRate float64

	// DetailedLabels adds the caller's email domain to tool metrics.
	DetailedLabels bool

	AuditLogging AuditLoggingConfig
}

// AuditLoggingConfig configures the per-tool-call audit log.
type AuditLoggingConfig struct {
	Enabled bool

	// IncludePII logs the caller's full email instead of its domain.
	IncludePII bool
}

// DefaultConfig returns the configuration described by the environment.
func DefaultConfig() Config {
	return configFromEnv(os.LookupEnv)
}

func configFromEnv(lookup func(string) (string, bool)) Config {
	env := envReader{lookup: lookup}
	return Config{
		ServiceName:       env.str(EnvServiceName, "mcpbridge"),
		ServiceVersion:    "unknown",
		ServiceInstanceID: env.str(EnvServiceInstance, ""),
		Enabled:           env.boolean(EnvEnabled, true),
		MetricsExporter:   env.str(EnvMetricsExporter, ExporterPrometheus),
		TracingExporter:   env.str(EnvTracingExporter, ExporterNone),
		OTLPEndpoint:      env.str(EnvOTLPEndpoint, ""),
		OTLPInsecure:      env.boolean(EnvOTLPInsecure, false),
		TraceSamplingRate: env.float(EnvSamplingRate, 0.1),
		DetailedLabels:    env.boolean(EnvDetailedLabels, false),
		AuditLogging: AuditLoggingConfig{
			Enabled:    env.boolean(EnvAuditEnabled, true),
			IncludePII: env.boolean(EnvAuditIncludePII, false),
		},
	}
}

// Validate reports the first setting NewProvider would reject.
func (c *Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %g", c.TraceSamplingRate)
	}
	if c.MetricsExporter != "" && !slices.Contains(metricsExporters, c.MetricsExporter) {
		return fmt.Errorf("invalid metrics exporter %q, must be one of %v", c.MetricsExporter, metricsExporters)
	}
	if c.TracingExporter != "" && !slices.Contains(tracingExporters, c.TracingExporter) {
		return fmt.Errorf("invalid tracing exporter %q, must be one of %v", c.TracingExporter, tracingExporters)
	}
	if c.OTLPEndpoint == "" && (c.MetricsExporter == ExporterOTLP || c.TracingExporter == ExporterOTLP) {
		return fmt.Errorf("%s is required for the otlp exporter", EnvOTLPEndpoint)
	}
	return nil
}

// envReader falls back to the default when a variable is unset or does not
// parse.
type envReader struct {
	lookup func(string) (string, bool)
}

func (e envReader) str(key, def string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (e envReader) boolean(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (e envReader) float(key string, def float64) float64 {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// Metric label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	TransportStreamable = "streamable"
	TransportSSE        = "sse"
	TransportWebSocket  = "websocket"
	TransportHTTP       = "http"

	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	TokenResultValid   = "valid"
	TokenResultInvalid = "invalid"
	TokenResultExpired = "expired"
	TokenResultRevoked = "revoked"
)
