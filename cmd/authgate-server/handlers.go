package main

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/metrics/export/prometheus"
	"github.com/MrEthical07/authgate/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// sessionCookie carries the session handle. Its name matches the guard's
// auth-cookie conventions.
const sessionCookie = "sb-auth-token"

type server struct {
	facade *authgate.Facade
	logger log.FieldLogger
}

func newHandler(facade *authgate.Facade, cfg authgate.Config, logger log.FieldLogger) http.Handler {
	s := &server{facade: facade, logger: logger.WithField("component", "http")}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/signup", s.signUp)
	mux.HandleFunc("POST /api/auth/signin", s.signIn)
	mux.HandleFunc("POST /api/auth/signout", s.signOut)
	mux.HandleFunc("GET /api/auth/session", s.session)
	mux.HandleFunc("GET /api/auth/status", s.status)
	mux.Handle("GET /metrics", prometheus.NewPrometheusExporter(facade).Handler())
	mux.HandleFunc("GET /{$}", s.home)
	mux.HandleFunc("GET /auth/login", page("Sign in", "/api/auth/signin"))
	mux.HandleFunc("GET /auth/register", page("Create account", "/api/auth/signup"))

	guardCfg := middleware.FromConfig(cfg)
	guardCfg.SkipPrefixes = append(guardCfg.SkipPrefixes, "/api/")
	guardCfg.Logger = logger.WithField("component", "guard")
	return middleware.RouteGuard(guardCfg)(mux)
}

func (s *server) signUp(w http.ResponseWriter, r *http.Request) {
	s.credentialCall(w, r, s.facade.SignUp)
}

func (s *server) signIn(w http.ResponseWriter, r *http.Request) {
	s.credentialCall(w, r, s.facade.SignIn)
}

func (s *server) credentialCall(w http.ResponseWriter, r *http.Request, call func(ctx context.Context, c authgate.Credentials) authgate.Result) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)

	var creds authgate.Credentials
	if isForm(r) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		creds = authgate.Credentials{Email: r.PostForm.Get("email"), Password: r.PostForm.Get("password")}
	} else if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	res := call(requestContext(r), creds)
	if res.OK() && res.Data.Session != nil {
		setSessionCookie(w, r, res.Data.Session)
	}
	if isForm(r) {
		s.writePage(w, r, res, "/")
		return
	}
	s.writeResult(w, res)
}

func (s *server) signOut(w http.ResponseWriter, r *http.Request) {
	res := s.facade.SignOut(requestContext(r), sessionToken(r))
	if res.OK() {
		clearSessionCookie(w, r)
	}
	if isForm(r) {
		s.writePage(w, r, res, "/auth/login")
		return
	}
	s.writeResult(w, res)
}

// isForm reports a browser form post from the pages below.
func isForm(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/x-www-form-urlencoded"
}

// writePage answers a form post: a redirect on success, the error as text
// otherwise.
func (s *server) writePage(w http.ResponseWriter, r *http.Request, res authgate.Result, next string) {
	w.Header().Set("X-Authgate-Served", string(res.Served))
	if res.OK() {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	http.Error(w, res.Error.Message, statusFor(res.Error.Kind))
}

func (s *server) session(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, s.facade.GetSession(requestContext(r), sessionToken(r)))
}

func (s *server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.facade.Availability())
}

func (s *server) home(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token == "" {
		// Let in by another auth cookie. Redirecting to login would loop.
		http.Error(w, "no session for this application", http.StatusUnauthorized)
		return
	}
	res := s.facade.GetSession(requestContext(r), token)
	if !res.OK() {
		http.Error(w, res.Error.Message, statusFor(res.Error.Kind))
		return
	}
	if res.Data.Session == nil {
		// The guard only saw a cookie name; the handle itself is stale.
		clearSessionCookie(w, r)
		http.Redirect(w, r, "/auth/login", http.StatusTemporaryRedirect)
		return
	}

	sess := res.Data.Session
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<h1>Welcome, %s</h1>\n", html.EscapeString(sess.User.Email))
	if !sess.Durable {
		fmt.Fprint(w, "<p>The authentication service is unreachable. This session is kept in memory and ends when the server restarts.</p>\n")
	}
	fmt.Fprint(w, `<form method="post" action="/api/auth/signout"><button>Sign out</button></form>`+"\n")
}

func page(title, action string) http.HandlerFunc {
	body := fmt.Sprintf(`<h1>%s</h1>
<form method="post" action=%q>
<input name="email" type="email" placeholder="Email">
<input name="password" type="password" placeholder="Password">
<button>%s</button>
</form>
`, title, action, title)
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

func (s *server) writeResult(w http.ResponseWriter, res authgate.Result) {
	w.Header().Set("X-Authgate-Served", string(res.Served))
	status := http.StatusOK
	if !res.OK() {
		status = statusFor(res.Error.Kind)
		if status >= http.StatusInternalServerError {
			s.logger.WithField("kind", res.Error.Kind).Warn(res.Error.Message)
		}
	}
	writeJSON(w, status, res)
}

func statusFor(kind authgate.ErrorKind) int {
	switch kind {
	case authgate.KindInvalidInput, authgate.KindRemote:
		return http.StatusBadRequest
	case authgate.KindInvalidCredentials, authgate.KindNotFound:
		return http.StatusUnauthorized
	case authgate.KindAlreadyExists:
		return http.StatusConflict
	case authgate.KindOffline, authgate.KindBackendUnreachable:
		return http.StatusServiceUnavailable
	case authgate.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ctx = authgate.WithClientIP(ctx, host)
	id := r.Header.Get("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	return authgate.WithRequestID(ctx, id)
}

func sessionToken(r *http.Request) string {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, sess *authgate.Session) {
	c := &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
	if !sess.ExpiresAt.IsZero() {
		c.Expires = sess.ExpiresAt
	} else {
		c.MaxAge = int((24 * time.Hour).Seconds())
	}
	http.SetCookie(w, c)
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
