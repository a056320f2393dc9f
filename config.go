package authgate

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authgate/backup"
	"github.com/MrEthical07/authgate/password"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read by LoadConfigFromEnv. The SUPABASE_* names are
// accepted as fallbacks.
const (
	EnvBackendURL = "AUTHGATE_BACKEND_URL"
	EnvAnonKey    = "AUTHGATE_ANON_KEY"
	EnvLogLevel   = "AUTHGATE_LOG_LEVEL"
	EnvLogFormat  = "AUTHGATE_LOG_FORMAT"
	EnvListenAddr = "AUTHGATE_LISTEN_ADDR"
	EnvReconcile  = "AUTHGATE_RECONCILE"

	envFallbackURL = "SUPABASE_URL"
	envFallbackKey = "SUPABASE_ANON_KEY"
)

// Config is the full gateway configuration. Build a starting point with
// DefaultConfig and override fields.
type Config struct {
	Remote    RemoteConfig    `yaml:"remote"`
	Probe     ProbeConfig     `yaml:"probe"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Backup    BackupConfig    `yaml:"backup"`
	Guard     GuardConfig     `yaml:"guard"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
}

/*
====================================
REMOTE BACKEND
====================================
*/

// RemoteConfig locates the remote identity backend. An empty URL or AnonKey
// means the backend is permanently unavailable.
type RemoteConfig struct {
	URL     string        `yaml:"url"`
	AnonKey string        `yaml:"anon_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Configured reports whether AnonKey is set and URL is an absolute http(s)
// URL. Anything else leaves the remote backend permanently unavailable.
func (r RemoteConfig) Configured() bool {
	return r.AnonKey != "" && r.wellFormedURL()
}

// Malformed reports a URL that is set but cannot address a backend.
func (r RemoteConfig) Malformed() bool {
	return strings.TrimSpace(r.URL) != "" && !r.wellFormedURL()
}

func (r RemoteConfig) wellFormedURL() bool {
	u, err := url.Parse(strings.TrimSpace(r.URL))
	return err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https")
}

/*
====================================
PROBE
====================================
*/

// ProbeConfig controls reachability checks.
//
// OnDemand probing runs inside a facade call while availability is still
// unknown. AssumeOnline skips host-level interface inspection.
type ProbeConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	DNSTimeout       time.Duration `yaml:"dns_timeout"`
	DNSCheck         bool          `yaml:"dns_check"`
	OnDemand         bool          `yaml:"on_demand"`
	OnDemandAttempts int           `yaml:"on_demand_attempts"`
	OnDemandPause    time.Duration `yaml:"on_demand_pause"`
	AssumeOnline     bool          `yaml:"assume_online"`
}

/*
====================================
RECONCILIATION
====================================
*/

// ReconcileConfig bounds the background job that looks for the remote
// backend after start-up.
type ReconcileConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxRetries int           `yaml:"max_retries"`
	Interval   time.Duration `yaml:"interval"`
}

/*
====================================
BACKUP STORE
====================================
*/

// BackupConfig configures the in-process fallback store.
type BackupConfig struct {
	Delays   backup.Delays   `yaml:"delays"`
	Password password.Config `yaml:"password"`
}

/*
====================================
ROUTE GUARD
====================================
*/

// GuardConfig holds the route classification used by the middleware package.
type GuardConfig struct {
	LoginPath    string   `yaml:"login_path"`
	HomePath     string   `yaml:"home_path"`
	AuthPaths    []string `yaml:"auth_paths"`
	SkipPrefixes []string `yaml:"skip_prefixes"`
}

/*
====================================
OBSERVABILITY
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// LogConfig configures the logrus logger built by binaries.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" (default) or "json"
}

// ServerConfig is used by cmd/authgate-server.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a configuration with no remote backend, the
// original retry budget (3 attempts, 2s apart) and the backup store's
// default latency.
func DefaultConfig() Config {
	return Config{
		Remote: RemoteConfig{
			Timeout: 10 * time.Second,
		},
		Probe: ProbeConfig{
			Timeout:          3 * time.Second,
			DNSTimeout:       5 * time.Second,
			OnDemand:         true,
			OnDemandAttempts: 2,
			OnDemandPause:    time.Second,
		},
		Reconcile: ReconcileConfig{
			Enabled:    true,
			MaxRetries: 3,
			Interval:   2 * time.Second,
		},
		Backup: BackupConfig{
			Delays:   backup.DefaultDelays(),
			Password: password.DefaultConfig(),
		},
		Guard: GuardConfig{
			LoginPath:    "/auth/login",
			HomePath:     "/",
			AuthPaths:    []string{"/auth/login", "/auth/register"},
			SkipPrefixes: []string{"/_next/static", "/_next/image", "/favicon.ico", "/public", "/static", "/metrics"},
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Guard.AuthPaths = append([]string(nil), cfg.Guard.AuthPaths...)
	out.Guard.SkipPrefixes = append([]string(nil), cfg.Guard.SkipPrefixes...)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations the facade cannot run with. A missing or
// malformed remote backend is not an error; see Lint.
func (c *Config) Validate() error {
	if c.Remote.Timeout <= 0 {
		return errors.New("Remote Timeout must be > 0")
	}

	if c.Probe.Timeout <= 0 {
		return errors.New("Probe Timeout must be > 0")
	}
	if c.Probe.DNSCheck && c.Probe.DNSTimeout <= 0 {
		return errors.New("Probe DNSTimeout must be > 0 when DNSCheck is true")
	}
	if c.Probe.OnDemand && c.Probe.OnDemandAttempts <= 0 {
		return errors.New("Probe OnDemandAttempts must be > 0 when OnDemand is true")
	}
	if c.Probe.OnDemandPause < 0 {
		return errors.New("Probe OnDemandPause must be >= 0")
	}

	if c.Reconcile.Enabled {
		if c.Reconcile.MaxRetries <= 0 {
			return errors.New("Reconcile MaxRetries must be > 0 when enabled")
		}
		if c.Reconcile.Interval <= 0 {
			return errors.New("Reconcile Interval must be > 0 when enabled")
		}
	}

	d := c.Backup.Delays
	if d.SignUp < 0 || d.SignIn < 0 || d.SignOut < 0 || d.GetSession < 0 {
		return errors.New("Backup delays must be >= 0")
	}
	if err := c.Backup.Password.Validate(); err != nil {
		return fmt.Errorf("Backup %w", err)
	}

	if !strings.HasPrefix(c.Guard.LoginPath, "/") || !strings.HasPrefix(c.Guard.HomePath, "/") {
		return errors.New("Guard LoginPath and HomePath must be absolute paths")
	}
	if len(c.Guard.AuthPaths) == 0 {
		return errors.New("Guard AuthPaths must not be empty")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("Log Format %q must be text or json", c.Log.Format)
	}

	return nil
}

/*
====================================
LINT
====================================
*/

// LintWarning is a configuration choice that is valid but likely unintended.
type LintWarning struct {
	Code    string
	Message string
}

// LintResult is the list returned by Lint.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// Lint reports risky but valid settings.
func (c *Config) Lint() LintResult {
	var ws LintResult
	if c.Remote.Malformed() {
		ws = append(ws, LintWarning{"remote_malformed", fmt.Sprintf("remote backend URL %q is not an absolute http(s) URL: every session is served from memory", c.Remote.URL)})
	} else if !c.Remote.Configured() {
		ws = append(ws, LintWarning{"remote_unconfigured", "no remote backend: every session is served from memory and lost on restart"})
	} else if strings.HasPrefix(c.Remote.URL, "http://") {
		ws = append(ws, LintWarning{"remote_insecure", "remote backend URL is not https"})
	}
	if c.Remote.Configured() && !c.Reconcile.Enabled && !c.Probe.OnDemand {
		ws = append(ws, LintWarning{"probing_disabled", "availability is never probed; the remote backend will not be used"})
	}
	if c.Probe.Timeout > c.Remote.Timeout {
		ws = append(ws, LintWarning{"probe_slower_than_remote", "probe timeout exceeds remote call timeout"})
	}
	if !c.Audit.Enabled {
		ws = append(ws, LintWarning{"audit_disabled", "failover events are not audited"})
	}
	return ws
}

/*
====================================
LOADING
====================================
*/

// LoadConfigFromEnv starts from DefaultConfig and applies environment
// variables. A .env file in the working directory is loaded first when
// present; variables already set in the process win.
func LoadConfigFromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := DefaultConfig()
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// LoadConfigFile reads a YAML file over DefaultConfig, then applies the
// environment on top.
func LoadConfigFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	if v := firstEnv(EnvBackendURL, envFallbackURL); v != "" {
		cfg.Remote.URL = v
	}
	if v := firstEnv(EnvAnonKey, envFallbackKey); v != "" {
		cfg.Remote.AnonKey = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv(EnvListenAddr); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv(EnvReconcile); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Reconcile.Enabled = b
		}
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
