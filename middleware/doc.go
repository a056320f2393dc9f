// Package middleware provides the cookie-based route guard that runs in
// front of application handlers.
//
// The guard approximates authentication from cookie names alone so it can
// run on every request without a backend round trip. It is a routing aid,
// not an authorization check: a forged cookie with the right name passes.
// Handlers that expose user data must still call authgate.Facade.GetSession.
//
// # Decisions
//
//   - unauthenticated, protected path: 307 to the login page
//   - authenticated, login or register path: 307 to the home page
//   - anything else: pass through
//
// Paths under the configured skip prefixes (static assets, metrics) bypass
// the guard entirely.
package middleware
