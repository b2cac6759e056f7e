// Package store provides the credential store that holds every piece of
// persisted bridge state: session records, authorization codes, token
// revocation records and upstream login states.
//
// # Key Components
//
//   - Store: the key-value contract with per-key TTL, conditional writes,
//     atomic get-and-delete and optimistic read-modify-write
//   - RedisStore: the production implementation on top of go-redis
//   - MemoryStore: an in-process implementation for development and tests
//   - Instrument: a decorator that records operation counts and latency
//
// In-process components never cache records read from a Store. Every read
// goes back to the store so that several server instances sharing one Redis
// observe the same state.
//
// # Key Schema
//
//	session:{id}       session record, sliding TTL
//	authcode:{code}    authorization code, 10 minutes
//	token:{jti}        token revocation record, token lifetime
//	loginstate:{state} upstream login round trip, 10 minutes
package store
