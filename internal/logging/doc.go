// Package logging provides structured logging utilities for the mcpbridge server.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Process logger setup (stderr or a log file, JSON or text)
//   - Consistent attribute naming across the codebase
//   - Hashing of session identifiers and user emails
//   - Masking helpers for values shown to operators
//   - Logger adapter interface for flexibility
//
// # Usage Patterns
//
// Attach standard attributes instead of raw identifiers:
//
//	logger.Info("session hydrated",
//	    logging.SessionHash(id),
//	    logging.UserHash(creds.Email))
//
// # Security Considerations
//
//   - Session IDs, authorization codes and emails are hashed before logging
//   - Tokens are never logged directly, only their length
package logging
