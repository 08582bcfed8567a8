// Package store provides SQLite-backed persistence for the agent registry.
//
// Two tables carry the credential state machine: agents holds each agent's
// current credential hash under a unique index, and api_key_history holds
// retired hashes with their grace-period expiries. RotateCredential moves a
// hash from the first table to the second atomically, guarded by an
// expected-old-value precondition so racing rotations of the same agent
// cannot silently orphan each other's keys.
//
// Timestamps are stored as RFC3339 text in UTC. Lookups return ErrNotFound
// rather than nil on miss.
package store
