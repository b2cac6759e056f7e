// Package session owns the lifecycle of bridge sessions.
//
// A session is one logical client conversation. It is created anonymous on
// first contact, kept alive by a sliding TTL that every successful access
// re-arms, and becomes authenticated once upstream credentials are hydrated
// into it. A session never goes back from authenticated to anonymous; it is
// only destroyed, explicitly or by expiry.
//
// All state lives in a store.Store. The Manager re-reads the record on every
// call and expresses each mutation as an atomic read-modify-write, so several
// server instances sharing one store observe the same sessions without any
// coordination of their own.
//
// Credentials are sealed with a Cipher before they reach the store. A record
// whose credentials no longer decrypt is destroyed and reported as not found,
// which sends the client back through authentication.
//
// Transport code attaches a Handle to the request context with NewContext.
// Tool handlers reach their session only through FromContext.
package session
