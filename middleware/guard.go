package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/authgate"
	"github.com/sirupsen/logrus"
)

// Decision is the guard's verdict for one request.
type Decision uint8

const (
	// Pass lets the request through to the next handler.
	Pass Decision = iota
	// RedirectLogin sends an unauthenticated caller to the login page.
	RedirectLogin
	// RedirectHome sends an authenticated caller away from login/register.
	RedirectHome
)

func (d Decision) String() string {
	switch d {
	case RedirectLogin:
		return "redirect_login"
	case RedirectHome:
		return "redirect_home"
	default:
		return "pass"
	}
}

// Config configures the route guard.
type Config struct {
	// AnonKey is the backend's public client key. Its first eight
	// characters name the refresh cookie written by the browser client.
	AnonKey      string
	LoginPath    string
	HomePath     string
	AuthPaths    []string
	SkipPrefixes []string
	Logger       logrus.FieldLogger
}

// FromConfig derives guard settings from the gateway configuration.
func FromConfig(cfg authgate.Config) Config {
	return Config{
		AnonKey:      cfg.Remote.AnonKey,
		LoginPath:    cfg.Guard.LoginPath,
		HomePath:     cfg.Guard.HomePath,
		AuthPaths:    append([]string(nil), cfg.Guard.AuthPaths...),
		SkipPrefixes: append([]string(nil), cfg.Guard.SkipPrefixes...),
	}
}

// Guard classifies requests by cookie presence. It never validates token
// signatures or expiry; handlers behind it must still check the session.
type Guard struct {
	anonKey      string
	loginPath    string
	homePath     string
	authPaths    map[string]struct{}
	skipPrefixes []string
	logger       logrus.FieldLogger
}

// NewGuard builds a Guard, defaulting empty fields from
// authgate.DefaultConfig.
func NewGuard(cfg Config) *Guard {
	defaults := authgate.DefaultConfig().Guard
	g := &Guard{
		anonKey:      cfg.AnonKey,
		loginPath:    cfg.LoginPath,
		homePath:     cfg.HomePath,
		authPaths:    make(map[string]struct{}),
		skipPrefixes: cfg.SkipPrefixes,
		logger:       cfg.Logger,
	}
	if g.loginPath == "" {
		g.loginPath = defaults.LoginPath
	}
	if g.homePath == "" {
		g.homePath = defaults.HomePath
	}
	paths := cfg.AuthPaths
	if len(paths) == 0 {
		paths = defaults.AuthPaths
	}
	for _, p := range paths {
		g.authPaths[p] = struct{}{}
	}
	if g.skipPrefixes == nil {
		g.skipPrefixes = defaults.SkipPrefixes
	}
	if g.logger == nil {
		g.logger = logrus.StandardLogger().WithField("component", "guard")
	}
	return g
}

// RouteGuard returns middleware that redirects unauthenticated requests for
// protected paths to the login page and authenticated requests for auth
// paths to the home page.
func RouteGuard(cfg Config) func(http.Handler) http.Handler {
	return NewGuard(cfg).Middleware
}

// Middleware wraps next with the guard.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.skipped(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		authed := IsAuthenticated(r.Cookies(), g.anonKey)
		decision := g.decide(r.URL.Path, authed)
		g.logger.WithFields(logrus.Fields{
			"path":          r.URL.Path,
			"authenticated": authed,
			"decision":      decision.String(),
			"cookies":       cookieNames(r.Cookies()),
		}).Debug("route guard")

		switch decision {
		case RedirectLogin:
			http.Redirect(w, r, absoluteURL(r, g.loginPath), http.StatusTemporaryRedirect)
		case RedirectHome:
			http.Redirect(w, r, absoluteURL(r, g.homePath), http.StatusTemporaryRedirect)
		default:
			ctx := context.WithValue(r.Context(), authenticatedContextKey{}, authed)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// Classify returns the decision for r without writing a response. Skipped
// paths always pass.
func (g *Guard) Classify(r *http.Request) Decision {
	if g.skipped(r.URL.Path) {
		return Pass
	}
	return g.decide(r.URL.Path, IsAuthenticated(r.Cookies(), g.anonKey))
}

func (g *Guard) decide(path string, authed bool) Decision {
	_, authPath := g.authPaths[path]
	switch {
	case !authed && !authPath:
		return RedirectLogin
	case authed && authPath:
		return RedirectHome
	default:
		return Pass
	}
}

func (g *Guard) skipped(path string) bool {
	for _, prefix := range g.skipPrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

type authenticatedContextKey struct{}

// AuthenticatedFromContext reports the guard's cookie verdict for a request
// that was passed through. ok is false when the guard did not run.
func AuthenticatedFromContext(ctx context.Context) (authed bool, ok bool) {
	authed, ok = ctx.Value(authenticatedContextKey{}).(bool)
	return authed, ok
}

// IsAuthenticated reports whether cookies look like an auth session: any
// cookie named after a known auth-token convention, or the refresh cookie
// derived from anonKey with a non-empty value. Only names are inspected.
func IsAuthenticated(cookies []*http.Cookie, anonKey string) bool {
	refresh := RefreshCookieName(anonKey)
	for _, c := range cookies {
		if c == nil {
			continue
		}
		if authCookieName(c.Name) {
			return true
		}
		if c.Name == refresh && c.Value != "" {
			return true
		}
	}
	return false
}

// RefreshCookieName returns the refresh-token cookie name the browser client
// derives from the public client key.
func RefreshCookieName(anonKey string) string {
	prefix := anonKey
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return "sb-" + strings.ReplaceAll(prefix, "_", "-") + "-auth-refresh-token"
}

func authCookieName(name string) bool {
	n := strings.ToLower(name)
	if strings.Contains(n, "supabase-auth") || strings.Contains(n, "sb-auth") {
		return true
	}
	return strings.HasPrefix(n, "sb-") &&
		(strings.Contains(n, "-auth-token") ||
			strings.Contains(n, "-access-token") ||
			strings.Contains(n, "-refresh-token"))
}

func absoluteURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host + path
}

func cookieNames(cookies []*http.Cookie) []string {
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	return names
}
