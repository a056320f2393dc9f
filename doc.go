// Package authgate is an authentication gateway that prefers a hosted
// identity backend and falls back to an in-process store when that backend
// cannot be reached.
//
// Build a [Facade] with [New] and [Builder.Build]. Every Facade operation
// returns a [Result] of the same shape whichever backend served it; the
// Served field and [Session.Durable] tell callers when a session lives only
// in process memory.
//
// # Availability
//
// Remote availability starts unknown. The first call probes on demand, and
// a background job started by Build keeps probing a bounded number of times.
// Once the backend is seen it stays in use; a transport failure on a single
// call falls back to the backup store for that call only. Without a backend
// URL and key the facade never contacts the network.
//
// # Sub-packages
//
//   - probe: host connectivity and backend reachability checks
//   - remote: HTTP client for the hosted backend
//   - backup: in-memory user and session store
//   - password: Argon2id hashing for the backup store
//   - middleware: cookie-based route guard
//   - metrics/export: Prometheus and OpenTelemetry exporters
package authgate
