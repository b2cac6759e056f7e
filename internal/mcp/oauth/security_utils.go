package oauth

import (
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/teemow/mcpbridge/internal/logging"
)

// hashForLogging creates a short hash of sensitive data for safe logging.
// This prevents leaking codes, session ids or emails in log files.
func hashForLogging(sensitive string) string {
	return logging.HashID(sensitive)
}

// isLoopback checks if a hostname is a loopback address
func isLoopback(hostname string) bool {
	hostname = strings.Trim(hostname, "[]")
	if slices.Contains(LoopbackAddresses, hostname) {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}

// ValidateRedirectURI validates a redirect URI according to OAuth 2.0 Security
// Best Current Practice: absolute, no fragment, https unless the host is a
// loopback address.
func ValidateRedirectURI(uri string) error {
	if uri == "" {
		return ErrInvalidRedirectURI("redirect_uri is required")
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return ErrInvalidRedirectURI("redirect_uri is not a valid URL")
	}
	if parsed.Fragment != "" {
		return ErrInvalidRedirectURI("redirect_uri must not contain a fragment")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" || !parsed.IsAbs() {
		return ErrInvalidRedirectURI("redirect_uri must be absolute")
	}
	if slices.Contains(DangerousSchemes, scheme) {
		return ErrInvalidRedirectURI("redirect_uri scheme is not allowed")
	}
	if scheme != "http" && scheme != "https" {
		return ErrInvalidRedirectURI("redirect_uri must use http or https")
	}
	if parsed.Host == "" {
		return ErrInvalidRedirectURI("redirect_uri must have a host")
	}
	if scheme == "http" && !isLoopback(parsed.Hostname()) {
		return ErrInvalidRedirectURI("redirect_uri must use HTTPS unless it targets a loopback address")
	}
	return nil
}

// setSecurityHeaders sets security headers on HTTP responses
func setSecurityHeaders(w http.ResponseWriter, resource string) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	w.Header().Set("Referrer-Policy", "no-referrer")

	if strings.HasPrefix(resource, "https://") {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// getClientIP extracts the client IP address from the request
// trustProxy: if true, trust X-Forwarded-For and X-Real-IP headers (only if behind trusted proxy)
func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	return extractIPFromAddr(r.RemoteAddr)
}

// extractIPFromAddr extracts the IP address from "IP:port" format
func extractIPFromAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// ClientIP is the exported form of getClientIP for other transports.
func ClientIP(r *http.Request, trustProxy bool) string {
	return getClientIP(r, trustProxy)
}
