// Package upstream holds the credentials a session is hydrated with and the
// HTTP client tools use to call the upstream API on behalf of a session.
package upstream
