// Package backup is an in-process stand-in for the remote identity backend.
//
// [Store] emulates sign-up, sign-in, sign-out and session lookup against an
// in-memory user table keyed by email. Every call sleeps for a configured
// delay first so callers see latency comparable to a network round trip.
//
// Nothing here is durable: users and sessions vanish with the process.
// Sessions are keyed by an opaque handle returned to the caller, so several
// users in one process never overwrite each other's session.
package backup
