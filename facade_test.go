package authgate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authgate/backup"
	"github.com/MrEthical07/authgate/password"
	"github.com/MrEthical07/authgate/probe"
	"github.com/MrEthical07/authgate/remote"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeProber struct {
	offline atomic.Bool

	mu      sync.Mutex
	results []bool
	calls   int
}

// newFakeProber answers Reachable with results in order; the last result
// repeats.
func newFakeProber(results ...bool) *fakeProber {
	return &fakeProber{results: results}
}

func (p *fakeProber) Online() bool {
	return !p.offline.Load()
}

func (p *fakeProber) Reachable(context.Context, string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.results) == 0 {
		return false
	}
	r := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return r
}

func (p *fakeProber) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeRemote struct {
	calls atomic.Int64
	err   error

	mu       sync.Mutex
	accounts map[string]string
	tokens   map[string]remote.User
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		accounts: make(map[string]string),
		tokens:   make(map[string]remote.User),
	}
}

func (r *fakeRemote) grant(email string) *remote.Session {
	user := remote.User{ID: "remote-" + email, Email: email}
	token := uuid.NewString()
	r.tokens[token] = user
	return &remote.Session{AccessToken: token, User: user, ExpiresAt: time.Now().Add(time.Hour)}
}

func (r *fakeRemote) SignUp(_ context.Context, email, pass string) (*remote.Session, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[email]; ok {
		return nil, &remote.APIError{Status: 422, Message: "User already registered"}
	}
	r.accounts[email] = pass
	return r.grant(email), nil
}

func (r *fakeRemote) SignInWithPassword(_ context.Context, email, pass string) (*remote.Session, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if want, ok := r.accounts[email]; !ok || want != pass {
		return nil, &remote.APIError{Status: 400, Message: "Invalid login credentials"}
	}
	return r.grant(email), nil
}

func (r *fakeRemote) SignOut(_ context.Context, token string) error {
	r.calls.Add(1)
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, token)
	return nil
}

func (r *fakeRemote) GetUser(_ context.Context, token string) (*remote.User, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.tokens[token]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Remote.URL = "https://auth.example.test"
	cfg.Remote.AnonKey = "anon-key"
	cfg.Probe.OnDemandPause = time.Millisecond
	cfg.Reconcile.Enabled = false
	cfg.Reconcile.Interval = time.Millisecond
	cfg.Audit.Enabled = false
	cfg.Backup.Delays = backup.Delays{}
	cfg.Backup.Password = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	return cfg
}

func buildTestFacade(t testing.TB, cfg Config, p *fakeProber, r *fakeRemote) *Facade {
	t.Helper()
	logger, _ := test.NewNullLogger()
	b := New().WithConfig(cfg).WithLogger(logger).WithProber(p)
	if r != nil {
		b.WithRemote(r)
	}
	f, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(f.Close)
	return f
}

func creds(email string) Credentials {
	return Credentials{Email: email, Password: "correct horse"}
}

func TestSignUpServedByRemoteWhenAvailable(t *testing.T) {
	p := newFakeProber(true)
	r := newFakeRemote()
	f := buildTestFacade(t, testConfig(), p, r)

	res := f.SignUp(context.Background(), creds("alice@example.com"))
	if !res.OK() {
		t.Fatalf("SignUp failed: %+v", res.Error)
	}
	if res.Served != SourceRemote {
		t.Fatalf("expected remote, got %s", res.Served)
	}
	if res.Data.Session == nil || !res.Data.Session.Durable || res.Data.Session.Source != SourceRemote {
		t.Fatalf("expected durable remote session, got %+v", res.Data.Session)
	}
	if res.Data.User == nil || res.Data.User.Email != "alice@example.com" {
		t.Fatalf("unexpected user %+v", res.Data.User)
	}
	if got := f.Availability().State; got != StateAvailable {
		t.Fatalf("expected available, got %s", got)
	}

	lookup := f.GetSession(context.Background(), res.Data.Session.Token)
	if !lookup.OK() || lookup.Data.Session == nil || lookup.Served != SourceRemote {
		t.Fatalf("expected remote session lookup, got %+v", lookup)
	}
}

func TestThreeFailedProbesRouteToBackup(t *testing.T) {
	cfg := testConfig()
	cfg.Probe.OnDemand = false
	cfg.Reconcile.Enabled = true

	p := newFakeProber(false)
	r := newFakeRemote()
	f := buildTestFacade(t, cfg, p, r)
	f.reconciler.wait()

	if got := p.Calls(); got != 3 {
		t.Fatalf("expected 3 probe attempts, got %d", got)
	}
	snap := f.Availability()
	if snap.State != StateUnavailable || snap.RetryCount != 3 {
		t.Fatalf("expected unavailable with 3 retries, got %+v", snap)
	}

	up := f.SignUp(context.Background(), creds("bob@example.com"))
	in := f.SignIn(context.Background(), creds("bob@example.com"))
	for _, res := range []Result{up, in} {
		if !res.OK() || res.Served != SourceBackup {
			t.Fatalf("expected backup success, got %+v", res)
		}
		if res.Data.Session.Durable {
			t.Fatal("backup session must not be durable")
		}
	}
	if up.Data.User.ID != in.Data.User.ID {
		t.Fatalf("identity changed across sign-in: %q vs %q", up.Data.User.ID, in.Data.User.ID)
	}
	if r.calls.Load() != 0 {
		t.Fatalf("remote must not be called, got %d calls", r.calls.Load())
	}
	if got := p.Calls(); got != 3 {
		t.Fatalf("calls must not probe again, got %d probes", got)
	}
}

func TestReconcilerStopsOnFirstSuccess(t *testing.T) {
	cfg := testConfig()
	cfg.Probe.OnDemand = false
	cfg.Reconcile.Enabled = true

	p := newFakeProber(false, true)
	f := buildTestFacade(t, cfg, p, newFakeRemote())
	f.reconciler.wait()

	if got := p.Calls(); got != 2 {
		t.Fatalf("expected 2 probe attempts, got %d", got)
	}
	snap := f.Availability()
	if snap.State != StateAvailable || snap.RetryCount != 0 {
		t.Fatalf("expected available with reset retries, got %+v", snap)
	}
}

func TestCloseStopsReconciler(t *testing.T) {
	cfg := testConfig()
	cfg.Probe.OnDemand = false
	cfg.Reconcile.Enabled = true
	cfg.Reconcile.Interval = time.Hour

	p := newFakeProber(false)
	f := buildTestFacade(t, cfg, p, newFakeRemote())

	done := make(chan struct{})
	go func() {
		f.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	if got := p.Calls(); got != 1 {
		t.Fatalf("expected only the immediate probe, got %d", got)
	}

	res := f.SignIn(context.Background(), creds("late@example.com"))
	if res.OK() || res.Error.Message != ErrFacadeClosed.Error() {
		t.Fatalf("expected closed error, got %+v", res)
	}
}

func TestOfflineTouchesNeitherBackend(t *testing.T) {
	p := newFakeProber(true)
	p.offline.Store(true)
	r := newFakeRemote()
	f := buildTestFacade(t, testConfig(), p, r)

	ctx := context.Background()
	results := []Result{
		f.SignUp(ctx, creds("carol@example.com")),
		f.SignIn(ctx, creds("carol@example.com")),
		f.SignOut(ctx, "handle"),
		f.GetSession(ctx, "handle"),
	}
	for i, res := range results {
		if res.OK() || res.Error.Kind != KindOffline {
			t.Fatalf("call %d: expected offline error, got %+v", i, res)
		}
		if res.Error.Message != offlineMessage {
			t.Fatalf("call %d: unexpected message %q", i, res.Error.Message)
		}
		if !errors.Is(res.Error, ErrOffline) {
			t.Fatalf("call %d: expected errors.Is ErrOffline", i)
		}
	}
	if r.calls.Load() != 0 {
		t.Fatalf("remote must not be called while offline, got %d", r.calls.Load())
	}
	if got := f.MetricsSnapshot().Counters[MetricOfflineRejected]; got != 4 {
		t.Fatalf("expected 4 offline rejections, got %d", got)
	}
}

func TestTransportFailureFallsBackForOneCall(t *testing.T) {
	p := newFakeProber(true)
	r := newFakeRemote()
	r.err = fmt.Errorf("%w: dial tcp: connection refused", remote.ErrTransport)
	f := buildTestFacade(t, testConfig(), p, r)

	res := f.SignUp(context.Background(), creds("dan@example.com"))
	if !res.OK() {
		t.Fatalf("expected backup success, got %+v", res.Error)
	}
	if res.Served != SourceBackup || res.Data.Session.Durable {
		t.Fatalf("expected non-durable backup session, got %+v", res)
	}
	if got := f.MetricsSnapshot().Counters[MetricFailover]; got != 1 {
		t.Fatalf("expected one failover, got %d", got)
	}
	if f.Availability().State != StateAvailable {
		t.Fatal("a single transport failure must not mark the backend unavailable")
	}

	r.err = nil
	next := f.SignUp(context.Background(), creds("erin@example.com"))
	if !next.OK() || next.Served != SourceRemote {
		t.Fatalf("expected the next call to use the remote backend, got %+v", next)
	}
}

func TestRemoteAPIErrorDoesNotFailOver(t *testing.T) {
	p := newFakeProber(true)
	r := newFakeRemote()
	r.err = &remote.APIError{Status: 400, Message: "Password should be at least 6 characters"}
	f := buildTestFacade(t, testConfig(), p, r)

	res := f.SignUp(context.Background(), creds("frank@example.com"))
	if res.OK() || res.Error.Kind != KindRemote {
		t.Fatalf("expected remote error, got %+v", res)
	}
	if res.Error.Message != "Password should be at least 6 characters" {
		t.Fatalf("backend message not preserved: %q", res.Error.Message)
	}
	if res.Served != SourceRemote || res.Data != nil {
		t.Fatalf("unexpected result shape %+v", res)
	}
	if got := f.MetricsSnapshot().Counters[MetricFailover]; got != 0 {
		t.Fatalf("expected no failover, got %d", got)
	}
}

func TestMissingConfigNeverCallsRemote(t *testing.T) {
	cfg := testConfig()
	cfg.Remote.URL = ""
	cfg.Reconcile.Enabled = true

	p := newFakeProber(true)
	r := newFakeRemote()
	f := buildTestFacade(t, cfg, p, r)

	res := f.SignUp(context.Background(), creds("gina@example.com"))
	if !res.OK() || res.Served != SourceBackup {
		t.Fatalf("expected backup success, got %+v", res)
	}
	if p.Calls() != 0 || r.calls.Load() != 0 {
		t.Fatalf("expected no probes or remote calls, got probes=%d remote=%d", p.Calls(), r.calls.Load())
	}
	snap := f.Availability()
	if snap.State != StateUnavailable || snap.RetryCount != snap.MaxRetries {
		t.Fatalf("expected permanently unavailable, got %+v", snap)
	}
	if f.reconciler != nil {
		t.Fatal("reconciler must not start without a backend")
	}
	if got := f.Probe(context.Background()); got.State != StateUnavailable || p.Calls() != 0 {
		t.Fatalf("manual probe must not run without a backend, got %+v", got)
	}
}

func TestMalformedBackendURLServesFromBackup(t *testing.T) {
	cfg := testConfig()
	cfg.Remote.URL = "auth.example.test"
	cfg.Reconcile.Enabled = true

	p := newFakeProber(true)
	f := buildTestFacade(t, cfg, p, nil)

	res := f.SignUp(context.Background(), creds("hana@example.com"))
	if !res.OK() || res.Served != SourceBackup {
		t.Fatalf("expected backup success, got %+v", res)
	}
	if res.Data.Session == nil || res.Data.Session.Durable {
		t.Fatalf("expected a non-durable backup session, got %+v", res.Data.Session)
	}
	if p.Calls() != 0 {
		t.Fatalf("expected no connectivity checks against a malformed URL, got %d", p.Calls())
	}
	if snap := f.Availability(); snap.State != StateUnavailable || !snap.Checked {
		t.Fatalf("expected permanently unavailable, got %+v", snap)
	}
	if f.reconciler != nil {
		t.Fatal("reconciler must not start with a malformed URL")
	}
}

func TestOnDemandProbeRunsOnce(t *testing.T) {
	p := newFakeProber(false)
	r := newFakeRemote()
	f := buildTestFacade(t, testConfig(), p, r)

	res := f.SignIn(context.Background(), creds("hank@example.com"))
	if res.OK() || res.Error.Kind != KindNotFound {
		t.Fatalf("expected not found from backup, got %+v", res)
	}
	if !errors.Is(res.Error, ErrNotFound) {
		t.Fatal("expected errors.Is ErrNotFound")
	}
	if got := p.Calls(); got != 2 {
		t.Fatalf("expected 2 on-demand probes, got %d", got)
	}

	_ = f.GetSession(context.Background(), "")
	if got := p.Calls(); got != 2 {
		t.Fatalf("probing must stop once availability is known, got %d", got)
	}
	if r.calls.Load() != 0 {
		t.Fatal("remote must not be called while unavailable")
	}
}

func TestBackupErrorsShareResultShape(t *testing.T) {
	cfg := testConfig()
	cfg.Remote.URL = ""
	f := buildTestFacade(t, cfg, newFakeProber(), nil)
	ctx := context.Background()

	if res := f.SignUp(ctx, creds("ivy@example.com")); !res.OK() {
		t.Fatalf("SignUp failed: %+v", res.Error)
	}

	cases := []struct {
		name string
		res  Result
		kind ErrorKind
	}{
		{"duplicate", f.SignUp(ctx, creds("ivy@example.com")), KindAlreadyExists},
		{"unknown user", f.SignIn(ctx, creds("nobody@example.com")), KindNotFound},
		{"wrong password", f.SignIn(ctx, Credentials{Email: "ivy@example.com", Password: "nope"}), KindInvalidCredentials},
		{"empty input", f.SignIn(ctx, Credentials{Email: "ivy@example.com"}), KindInvalidInput},
	}
	for _, tc := range cases {
		if tc.res.Data != nil || tc.res.Error == nil {
			t.Fatalf("%s: expected error-only result, got %+v", tc.name, tc.res)
		}
		if tc.res.Error.Kind != tc.kind || tc.res.Error.Message == "" {
			t.Fatalf("%s: expected kind %s, got %+v", tc.name, tc.kind, tc.res.Error)
		}
	}
}

func TestGetSessionWithoutSession(t *testing.T) {
	cfg := testConfig()
	cfg.Remote.URL = ""
	f := buildTestFacade(t, cfg, newFakeProber(), nil)

	for _, token := range []string{"", "not-a-handle"} {
		res := f.GetSession(context.Background(), token)
		if !res.OK() || res.Data == nil || res.Data.Session != nil {
			t.Fatalf("expected empty session for %q, got %+v", token, res)
		}
	}

	out := f.SignOut(context.Background(), "not-a-handle")
	if !out.OK() || out.Data == nil {
		t.Fatalf("expected sign-out of unknown handle to succeed, got %+v", out)
	}
}

func TestBackupSessionSurvivesRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.Probe.OnDemand = false

	p := newFakeProber(false, true)
	r := newFakeRemote()
	f := buildTestFacade(t, cfg, p, r)
	ctx := context.Background()

	if snap := f.Probe(ctx); snap.State != StateUnavailable {
		t.Fatalf("expected unavailable, got %+v", snap)
	}
	up := f.SignUp(ctx, creds("jill@example.com"))
	if !up.OK() || up.Served != SourceBackup {
		t.Fatalf("expected backup sign-up, got %+v", up)
	}
	handle := up.Data.Session.Token

	if snap := f.Probe(ctx); snap.State != StateAvailable {
		t.Fatalf("expected available, got %+v", snap)
	}

	got := f.GetSession(ctx, handle)
	if !got.OK() || got.Served != SourceBackup || got.Data.Session == nil {
		t.Fatalf("expected the backup session to remain readable, got %+v", got)
	}
	if out := f.SignOut(ctx, handle); !out.OK() || out.Served != SourceBackup {
		t.Fatalf("expected backup sign-out, got %+v", out)
	}
	if gone := f.GetSession(ctx, handle); !gone.OK() || gone.Data.Session != nil {
		t.Fatalf("expected no session after sign-out, got %+v", gone)
	}
	if r.calls.Load() != 1 {
		t.Fatalf("only the final lookup should reach the remote backend, got %d calls", r.calls.Load())
	}
}

func TestCanceledContext(t *testing.T) {
	cfg := testConfig()
	cfg.Remote.URL = ""
	cfg.Backup.Delays = backup.Delays{SignIn: time.Second}
	f := buildTestFacade(t, cfg, newFakeProber(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := f.SignIn(ctx, creds("kim@example.com"))
	if res.OK() || res.Error.Kind != KindCanceled {
		t.Fatalf("expected canceled, got %+v", res)
	}
}

func TestCallerDeadlineDuringRemoteCall(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc(probe.SettingsPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(release)

	cfg := testConfig()
	cfg.Remote.URL = srv.URL
	logger, _ := test.NewNullLogger()
	f, err := New().
		WithConfig(cfg).
		WithLogger(logger).
		WithNetworkStatus(probe.AlwaysOnline).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer f.Close()

	if snap := f.Probe(context.Background()); snap.State != StateAvailable {
		t.Fatalf("expected remote available, got %+v", snap)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := f.SignIn(ctx, creds("nia@example.com"))
	if res.OK() || res.Error.Kind != KindCanceled || res.Served != SourceRemote {
		t.Fatalf("expected canceled from remote, got %+v served=%s", res.Error, res.Served)
	}
	if n := f.MetricsSnapshot().Counters[MetricFailover]; n != 0 {
		t.Fatalf("an abandoned call must not fail over, got %d failovers", n)
	}
}

func TestAuditEventsForFailover(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false

	sink := NewChannelSink(16)
	logger, _ := test.NewNullLogger()
	r := newFakeRemote()
	r.err = fmt.Errorf("%w: timeout", remote.ErrTransport)
	f, err := New().
		WithConfig(cfg).
		WithLogger(logger).
		WithProber(newFakeProber(true)).
		WithRemote(r).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ctx := WithRequestID(WithClientIP(context.Background(), "203.0.113.7"), "req-1")
	res := f.SignUp(ctx, creds("lee@example.com"))
	if !res.OK() {
		t.Fatalf("SignUp failed: %+v", res.Error)
	}
	f.Close()

	var types []string
	var signUp AuditEvent
	for len(sink.Events()) > 0 {
		ev := <-sink.Events()
		types = append(types, ev.EventType)
		if ev.EventType == auditEventSignUp {
			signUp = ev
		}
	}
	want := []string{auditEventBackendAvailable, auditEventFailover, auditEventSignUp}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
	if signUp.Served != SourceBackup || signUp.Durable || !signUp.Success {
		t.Fatalf("unexpected sign-up event %+v", signUp)
	}
	if signUp.RequestID != "req-1" || signUp.IP != "203.0.113.7" || signUp.UserID == "" {
		t.Fatalf("missing request fields in %+v", signUp)
	}
}

func TestFacadeAgainstHTTPBackend(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(probe.SettingsPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "anon-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"external":{"email":true}}`))
	})
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok-1","refresh_token":"ref-1","expires_in":3600,"user":{"id":"u-1","email":"mia@example.com"}}`))
	})
	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":"u-1","email":"mia@example.com"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig()
	cfg.Remote.URL = srv.URL
	logger, _ := test.NewNullLogger()
	f, err := New().
		WithConfig(cfg).
		WithLogger(logger).
		WithNetworkStatus(probe.AlwaysOnline).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer f.Close()

	ctx := context.Background()
	in := f.SignIn(ctx, creds("mia@example.com"))
	if !in.OK() || in.Served != SourceRemote {
		t.Fatalf("expected remote sign-in, got %+v", in)
	}
	s := in.Data.Session
	if s.Token != "tok-1" || s.RefreshToken != "ref-1" || s.User.ID != "u-1" || s.ExpiresAt.IsZero() {
		t.Fatalf("unexpected session %+v", s)
	}

	got := f.GetSession(ctx, "tok-1")
	if !got.OK() || got.Data.Session == nil || got.Data.Session.User.Email != "mia@example.com" {
		t.Fatalf("expected session lookup, got %+v", got)
	}
	if expired := f.GetSession(ctx, "stale"); !expired.OK() || expired.Data.Session != nil {
		t.Fatalf("expected no session for a rejected token, got %+v", expired)
	}
}
