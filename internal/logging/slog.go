package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation = "operation"
	KeyUserHash  = "user_hash"
	KeyError     = "error"
	KeySession   = "session_hash"
	KeyClientIP  = "client_ip"
	KeyTransport = "transport"
)

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from output.
// This allows safely passing Err(maybeNilErr) without adding empty attributes.
//
// Usage:
//
//	logger.Info("operation", logging.Err(err))  // Safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		// Return an empty Group that slog will omit from output
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeEmail returns a hashed representation of an email for logging purposes.
// This allows correlation of log entries without exposing PII.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(email))
	return "user:" + hex.EncodeToString(hash[:8])
}

// UserHash returns a slog attribute with the anonymized user email.
// This is a convenience function to reduce repetition in logging calls and ensure
// consistent attribute naming across the codebase.
//
// Usage:
//
//	logger.Info("operation completed", logging.UserHash(user.Email))
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}

// HashID returns a short stable hash of an identifier. Session IDs and
// authorization codes are bearer-like secrets and never appear in logs verbatim.
func HashID(id string) string {
	if id == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(id))
	return hex.EncodeToString(hash[:8])
}

// SessionHash returns a slog attribute with the hashed session identifier.
func SessionHash(sessionID string) slog.Attr {
	return slog.String(KeySession, HashID(sessionID))
}

// ClientIP returns a slog attribute for the client address.
func ClientIP(ip string) slog.Attr {
	return slog.String(KeyClientIP, ip)
}

// Transport returns a slog attribute for the transport kind of a connection.
func Transport(kind string) slog.Attr {
	return slog.String(KeyTransport, kind)
}

// MaskValue masks the middle of s with mask, leaving unmaskedLeft runes
// visible at the start and unmaskedRight at the end. When the visible parts
// would cover the whole value only the first rune is kept.
//
//	MaskValue("abcdef1234", 2, 2, '*') == "ab******34"
func MaskValue(s string, unmaskedLeft, unmaskedRight int, mask rune) string {
	runes := []rune(s)
	n := len(runes)
	if n == 0 {
		return ""
	}
	if unmaskedLeft < 0 {
		unmaskedLeft = 0
	}
	if unmaskedRight < 0 {
		unmaskedRight = 0
	}
	if unmaskedLeft+unmaskedRight >= n {
		unmaskedLeft, unmaskedRight = 1, 0
	}
	out := make([]rune, n)
	for i, r := range runes {
		if i < unmaskedLeft || i >= n-unmaskedRight {
			out[i] = r
		} else {
			out[i] = mask
		}
	}
	return string(out)
}

// SanitizeToken returns a masked version of a token for logging.
// It returns a length indicator without exposing any token content,
// as even partial token prefixes (like JWT headers) can aid attacks.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}

// ExtractDomain extracts the domain part from an email address.
// This is useful for lower-cardinality logging where the full email would
// create too many unique values.
func ExtractDomain(email string) string {
	if email == "" {
		return ""
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// Domain returns a slog attribute for the email domain (lower cardinality than full email).
func Domain(email string) slog.Attr {
	return slog.String("user_domain", ExtractDomain(email))
}
