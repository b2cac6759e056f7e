package oauth

import (
	"context"
	"log/slog"
	"time"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	// Authorization events
	AuditEventCodeIssued     AuditEventType = "authorization_code_issued"
	AuditEventTokenIssued    AuditEventType = "token_issued"
	AuditEventTokenRevoked   AuditEventType = "token_revoked"
	AuditEventSessionHydrate AuditEventType = "session_hydrated"
	AuditEventAuthFailure    AuditEventType = "auth_failure"
	AuditEventInvalidToken   AuditEventType = "invalid_token"

	// Security events
	AuditEventRateLimitExceeded AuditEventType = "rate_limit_exceeded"
	AuditEventInvalidPKCE       AuditEventType = "invalid_pkce"
	AuditEventInvalidRedirect   AuditEventType = "invalid_redirect"
	AuditEventCodeReuse         AuditEventType = "authorization_code_reuse"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	// Timestamp when the event occurred
	Timestamp time.Time

	// EventType is the type of audit event
	EventType AuditEventType

	// SessionHash is the hashed session identifier
	SessionHash string

	// IPAddress is the source IP address (for security monitoring)
	IPAddress string

	// Success indicates if the operation succeeded
	Success bool

	// ErrorMessage contains error details if Success is false
	ErrorMessage string

	// Metadata contains additional context-specific data
	Metadata map[string]string
}

// AuditLogger provides secure audit logging for OAuth events.
// Session ids and codes are hashed before logging. A nil AuditLogger
// discards events.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger}
}

// LogEvent logs an audit event with structured logging
func (a *AuditLogger) LogEvent(event AuditEvent) {
	if a == nil {
		return
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("event_type", string(event.EventType)),
		slog.Time("timestamp", event.Timestamp),
		slog.Bool("success", event.Success),
	}
	if event.SessionHash != "" {
		attrs = append(attrs, slog.String("session_hash", event.SessionHash))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.ErrorMessage != "" {
		attrs = append(attrs, slog.String("error", event.ErrorMessage))
	}
	for key, value := range event.Metadata {
		attrs = append(attrs, slog.String("meta_"+key, value))
	}

	a.logger.LogAttrs(context.Background(), level, "audit_event", attrs...)
}

func (a *AuditLogger) event(t AuditEventType, sessionID, ip string, success bool, msg string, meta map[string]string) {
	a.LogEvent(AuditEvent{
		Timestamp:    time.Now(),
		EventType:    t,
		SessionHash:  hashForLogging(sessionID),
		IPAddress:    ip,
		Success:      success,
		ErrorMessage: msg,
		Metadata:     meta,
	})
}

// LogCodeIssued logs when an authorization code is issued
func (a *AuditLogger) LogCodeIssued(sessionID, ip string) {
	a.event(AuditEventCodeIssued, sessionID, ip, true, "", nil)
}

// LogTokenIssued logs when a token is issued
func (a *AuditLogger) LogTokenIssued(sessionID, ip, scope string) {
	a.event(AuditEventTokenIssued, sessionID, ip, true, "", map[string]string{"scope": scope})
}

// LogTokenRevoked logs when a token is revoked
func (a *AuditLogger) LogTokenRevoked(ip string) {
	a.event(AuditEventTokenRevoked, "", ip, true, "", nil)
}

// LogSessionHydrated logs when upstream credentials are attached to a session
func (a *AuditLogger) LogSessionHydrated(sessionID, ip, source string) {
	a.event(AuditEventSessionHydrate, sessionID, ip, true, "", map[string]string{"source": source})
}

// LogAuthFailure logs an authentication failure
func (a *AuditLogger) LogAuthFailure(sessionID, ip, reason string) {
	a.event(AuditEventAuthFailure, sessionID, ip, false, reason, nil)
}

// LogInvalidToken logs a rejected bearer token
func (a *AuditLogger) LogInvalidToken(ip, reason string) {
	a.event(AuditEventInvalidToken, "", ip, false, reason, nil)
}

// LogRateLimitExceeded logs when rate limit is exceeded
func (a *AuditLogger) LogRateLimitExceeded(ip string) {
	a.event(AuditEventRateLimitExceeded, "", ip, false, "Rate limit exceeded", nil)
}

// LogInvalidPKCE logs when PKCE validation fails
func (a *AuditLogger) LogInvalidPKCE(sessionID, ip, reason string) {
	a.event(AuditEventInvalidPKCE, sessionID, ip, false, reason, nil)
}

// LogInvalidRedirect logs a rejected redirect URI
func (a *AuditLogger) LogInvalidRedirect(ip, reason string) {
	a.event(AuditEventInvalidRedirect, "", ip, false, reason, nil)
}

// LogCodeReuse logs a redemption attempt for an already consumed code
func (a *AuditLogger) LogCodeReuse(codeHash, ip string) {
	a.LogEvent(AuditEvent{
		Timestamp:    time.Now(),
		EventType:    AuditEventCodeReuse,
		IPAddress:    ip,
		Success:      false,
		ErrorMessage: "authorization code was already redeemed or expired",
		Metadata:     map[string]string{"code_hash": codeHash},
	})
}
