package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/backup"
	"github.com/MrEthical07/authgate/password"
	"github.com/sirupsen/logrus/hooks/test"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()

	cfg := authgate.DefaultConfig()
	cfg.Remote.URL = ""
	cfg.Remote.AnonKey = ""
	cfg.Probe.AssumeOnline = true
	cfg.Audit.Enabled = false
	cfg.Backup.Delays = backup.Delays{}
	cfg.Backup.Password = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}

	logger, _ := test.NewNullLogger()
	facade, err := authgate.New().WithConfig(cfg).WithLogger(logger).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(facade.Close)
	return newHandler(facade, cfg, logger)
}

func post(h http.Handler, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func get(h http.Handler, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestSignUpSetsCookieAndOpensHome(t *testing.T) {
	h := newTestHandler(t)

	rr := post(h, "/api/auth/signup", `{"email":"alice@example.com","password":"pw"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-Authgate-Served"); got != string(authgate.SourceBackup) {
		t.Fatalf("expected backup to serve, got %q", got)
	}
	cookie := findCookie(rr, sessionCookie)
	if cookie == nil || cookie.Value == "" {
		t.Fatal("expected session cookie")
	}

	home := get(h, "/", cookie)
	if home.Code != http.StatusOK {
		t.Fatalf("expected 200 on home, got %d", home.Code)
	}
	if !strings.Contains(home.Body.String(), "alice@example.com") {
		t.Fatalf("expected greeting, got %q", home.Body.String())
	}
}

func TestHomeWithoutCookieRedirects(t *testing.T) {
	h := newTestHandler(t)

	rr := get(h, "/")
	if rr.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); !strings.HasSuffix(loc, "/auth/login") {
		t.Fatalf("expected redirect to login, got %q", loc)
	}
}

func TestStaleCookieRedirectsToLogin(t *testing.T) {
	h := newTestHandler(t)

	rr := get(h, "/", &http.Cookie{Name: sessionCookie, Value: "gone"})
	if rr.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", rr.Code)
	}
	if c := findCookie(rr, sessionCookie); c == nil || c.MaxAge >= 0 {
		t.Fatalf("expected stale cookie to be cleared, got %+v", c)
	}
}

func TestLoginPageRedirectsWhenSignedIn(t *testing.T) {
	h := newTestHandler(t)

	rr := get(h, "/auth/login", &http.Cookie{Name: sessionCookie, Value: "x"})
	if rr.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", rr.Code)
	}

	anon := get(h, "/auth/login")
	if anon.Code != http.StatusOK {
		t.Fatalf("expected login page, got %d", anon.Code)
	}
}

func TestSignInStatusCodes(t *testing.T) {
	h := newTestHandler(t)

	if rr := post(h, "/api/auth/signin", `{"email":"ghost@example.com","password":"pw"}`); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown account, got %d", rr.Code)
	}
	if rr := post(h, "/api/auth/signup", `{"email":"bob@example.com","password":"pw"}`); rr.Code != http.StatusOK {
		t.Fatalf("sign-up failed: %d", rr.Code)
	}
	if rr := post(h, "/api/auth/signup", `{"email":"bob@example.com","password":"pw"}`); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate sign-up, got %d", rr.Code)
	}
	if rr := post(h, "/api/auth/signin", `{"email":"bob@example.com","password":"bad"}`); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rr.Code)
	}
	if rr := post(h, "/api/auth/signin", `{"email":"","password":""}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty input, got %d", rr.Code)
	}
	if rr := post(h, "/api/auth/signin", `not json`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rr.Code)
	}

	rr := post(h, "/api/auth/signin", `{"email":"bob@example.com","password":"pw"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var res authgate.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if res.Data == nil || res.Data.Session == nil || res.Data.Session.User.Email != "bob@example.com" {
		t.Fatalf("unexpected payload: %s", rr.Body.String())
	}
	if res.Data.Session.Durable {
		t.Fatal("backup sessions are not durable")
	}
}

func TestSessionAndSignOut(t *testing.T) {
	h := newTestHandler(t)

	cookie := findCookie(post(h, "/api/auth/signup", `{"email":"carol@example.com","password":"pw"}`), sessionCookie)
	if cookie == nil {
		t.Fatal("expected session cookie")
	}

	rr := get(h, "/api/auth/session", cookie)
	var res authgate.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if res.Data == nil || res.Data.Session == nil {
		t.Fatalf("expected active session, got %s", rr.Body.String())
	}

	out := post(h, "/api/auth/signout", "", cookie)
	if out.Code != http.StatusOK {
		t.Fatalf("expected 200 on sign-out, got %d", out.Code)
	}
	if c := findCookie(out, sessionCookie); c == nil || c.MaxAge >= 0 {
		t.Fatal("expected sign-out to clear the cookie")
	}

	rr = get(h, "/api/auth/session", cookie)
	res = authgate.Result{}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if res.Data == nil || res.Data.Session != nil {
		t.Fatalf("expected no session after sign-out, got %s", rr.Body.String())
	}
}

func TestStatusAndMetrics(t *testing.T) {
	h := newTestHandler(t)
	post(h, "/api/auth/signup", `{"email":"dan@example.com","password":"pw"}`)

	status := get(h, "/api/auth/status")
	if status.Code != http.StatusOK || !strings.Contains(status.Body.String(), "unavailable") {
		t.Fatalf("unexpected status response %d: %s", status.Code, status.Body.String())
	}

	metrics := get(h, "/metrics")
	if metrics.Code != http.StatusOK {
		t.Fatalf("expected 200 on /metrics, got %d", metrics.Code)
	}
	if !strings.Contains(metrics.Body.String(), "authgate_sign_up_success_total 1") {
		t.Fatalf("expected sign-up counter, got:\n%s", metrics.Body.String())
	}
}

func postForm(h http.Handler, path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestPagesSubmitForms(t *testing.T) {
	h := newTestHandler(t)

	register := get(h, "/auth/register")
	if !strings.Contains(register.Body.String(), `method="post" action="/api/auth/signup"`) {
		t.Fatalf("register page must post to the sign-up endpoint, got %q", register.Body.String())
	}

	form := url.Values{"email": {"erin@example.com"}, "password": {"pw"}}
	up := postForm(h, "/api/auth/signup", form)
	if up.Code != http.StatusSeeOther || up.Header().Get("Location") != "/" {
		t.Fatalf("expected 303 to /, got %d %q", up.Code, up.Header().Get("Location"))
	}
	cookie := findCookie(up, sessionCookie)
	if cookie == nil || cookie.Value == "" {
		t.Fatal("expected session cookie from form sign-up")
	}

	bad := postForm(h, "/api/auth/signin", url.Values{"email": {"erin@example.com"}, "password": {"nope"}})
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", bad.Code)
	}

	out := postForm(h, "/api/auth/signout", url.Values{}, cookie)
	if out.Code != http.StatusSeeOther || out.Header().Get("Location") != "/auth/login" {
		t.Fatalf("expected 303 to login, got %d %q", out.Code, out.Header().Get("Location"))
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[authgate.ErrorKind]int{
		authgate.KindOffline:            http.StatusServiceUnavailable,
		authgate.KindBackendUnreachable: http.StatusServiceUnavailable,
		authgate.KindAlreadyExists:      http.StatusConflict,
		authgate.KindInvalidCredentials: http.StatusUnauthorized,
		authgate.KindUnknown:            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusFor(kind); got != want {
			t.Fatalf("statusFor(%s) = %d, want %d", kind, got, want)
		}
	}
}
