package authgate

import (
	"net/http"

	"github.com/MrEthical07/authgate/backup"
	"github.com/MrEthical07/authgate/password"
	"github.com/MrEthical07/authgate/probe"
	"github.com/MrEthical07/authgate/remote"
	"github.com/sirupsen/logrus"
)

// Builder assembles a Facade. Configure it during initialization, call Build
// once, and discard it.
type Builder struct {
	config Config
	logger logrus.FieldLogger

	auditSink  AuditSink
	httpClient *http.Client
	network    probe.NetworkStatus

	prober       Prober
	remote       RemoteBackend
	backup       BackupBackend
	availability *Availability

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithLogger sets the logger shared by the facade, probe and backup store.
func (b *Builder) WithLogger(l logrus.FieldLogger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets the destination of audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithHTTPClient sets the client used for probe and remote calls.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// WithNetworkStatus overrides host-level connectivity detection.
func (b *Builder) WithNetworkStatus(ns probe.NetworkStatus) *Builder {
	b.network = ns
	return b
}

// WithProber replaces the built-in connectivity probe.
func (b *Builder) WithProber(p Prober) *Builder {
	b.prober = p
	return b
}

// WithRemote replaces the built-in remote client. It is ignored when the
// remote backend is not configured.
func (b *Builder) WithRemote(r RemoteBackend) *Builder {
	b.remote = r
	return b
}

// WithBackup replaces the built-in backup store.
func (b *Builder) WithBackup(s BackupBackend) *Builder {
	b.backup = s
	return b
}

// WithAvailability shares an existing availability record with the facade.
func (b *Builder) WithAvailability(a *Availability) *Builder {
	b.availability = a
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires both backends and starts
// background reconciliation when a remote backend is configured.
func (b *Builder) Build() (*Facade, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	// -------- BACKUP STORE --------
	store := b.backup
	if store == nil {
		hasher, err := password.NewArgon2(cfg.Backup.Password)
		if err != nil {
			return nil, err
		}
		s, err := backup.NewStore(hasher,
			backup.WithDelays(cfg.Backup.Delays),
			backup.WithLogger(logger.WithField("component", "backup")),
		)
		if err != nil {
			return nil, err
		}
		store = s
	}

	// -------- PROBE --------
	network := b.network
	if network == nil && cfg.Probe.AssumeOnline {
		network = probe.AlwaysOnline
	}
	prober := b.prober
	if prober == nil {
		prober = probe.New(probe.Config{
			APIKey:     cfg.Remote.AnonKey,
			Timeout:    cfg.Probe.Timeout,
			DNSTimeout: cfg.Probe.DNSTimeout,
			DNSCheck:   cfg.Probe.DNSCheck,
			Client:     b.httpClient,
			Network:    network,
			Logger:     logger.WithField("component", "probe"),
		})
	}

	availability := b.availability
	if availability == nil {
		availability = NewAvailability(cfg.Reconcile.MaxRetries)
	}

	f := &Facade{
		config:       cloneConfig(cfg),
		backendURL:   cfg.Remote.URL,
		prober:       prober,
		backup:       store,
		availability: availability,
		metrics:      NewMetrics(cfg.Metrics),
		audit:        newAuditDispatcher(cfg.Audit, b.auditSink),
		logger:       logger.WithField("component", "facade"),
		sleep:        sleep,
	}

	// -------- REMOTE BACKEND --------
	if !cfg.Remote.Configured() {
		if cfg.Remote.Malformed() {
			f.logger.WithField("url", cfg.Remote.URL).Warn("remote backend URL is malformed, every session is served from memory")
		} else {
			f.logger.Warn("remote backend not configured, every session is served from memory")
		}
		availability.markPermanentlyUnavailable()
		b.built = true
		return f, nil
	}

	f.remote = b.remote
	if f.remote == nil {
		client, err := remote.NewClient(remote.Config{
			BaseURL: cfg.Remote.URL,
			APIKey:  cfg.Remote.AnonKey,
			Timeout: cfg.Remote.Timeout,
			Client:  b.httpClient,
		})
		if err != nil {
			return nil, err
		}
		f.remote = client
	}

	if cfg.Reconcile.Enabled {
		f.reconciler = startReconciler(f, cfg.Reconcile.MaxRetries, cfg.Reconcile.Interval)
	}

	b.built = true
	return f, nil
}
