package instrumentation

import "strings"

// Cardinality management helpers for metrics.
// These functions reduce high-cardinality label values to prevent metrics explosion.

// ExtractUserDomain extracts the domain part from an email address.
//
// Example:
//
//	ExtractUserDomain("jane@example.com")  // "example.com"
//	ExtractUserDomain("invalid")           // "unknown"
//	ExtractUserDomain("")                  // "unknown"
func ExtractUserDomain(email string) string {
	if email == "" {
		return "unknown"
	}

	parts := strings.Split(email, "@")
	if len(parts) == 2 && parts[1] != "" {
		return parts[1]
	}

	return "unknown"
}

// knownPaths are recorded verbatim. Everything else collapses to PathOther
// so that scanners probing random URLs cannot grow the label set.
var knownPaths = map[string]bool{
	"/":                                       true,
	"/mcp":                                    true,
	"/sse":                                    true,
	"/messages":                               true,
	"/ws":                                     true,
	"/http":                                   true,
	"/authorize":                              true,
	"/token":                                  true,
	"/revoke":                                 true,
	"/register":                               true,
	"/redirect":                               true,
	"/healthz":                                true,
	"/readyz":                                 true,
	"/healthz/detailed":                       true,
	"/.well-known/oauth-authorization-server": true,
	"/.well-known/oauth-protected-resource":   true,
}

// PathOther is the label for unrecognized request paths.
const PathOther = "other"

// NormalizePath maps a request path onto a bounded label set.
func NormalizePath(path string) string {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if knownPaths[path] {
		return path
	}
	return PathOther
}

// Session and store operation names.
const (
	OperationCreate  = "create"
	OperationTouch   = "touch"
	OperationHydrate = "hydrate"
	OperationDestroy = "destroy"
	OperationGet     = "get"
)
