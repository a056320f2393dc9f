// Package probe decides whether the remote identity backend is reachable.
//
// A [Probe] never returns an error: every failure mode (bad URL, host offline,
// DNS failure, timeout, non-2xx status) collapses into false. It holds no
// availability state of its own; callers record the results.
package probe

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// SettingsPath is the backend's configuration endpoint. It is cheap, needs
// no user token, and exists on every deployment.
const SettingsPath = "/auth/v1/settings"

const (
	DefaultTimeout    = 3 * time.Second
	DefaultDNSTimeout = 5 * time.Second
)

// NetworkStatus reports whether the host has any network connectivity.
type NetworkStatus interface {
	Online() bool
}

// NetworkStatusFunc adapts a function to NetworkStatus.
type NetworkStatusFunc func() bool

func (f NetworkStatusFunc) Online() bool { return f() }

// AlwaysOnline is a NetworkStatus for environments where interface
// inspection is meaningless (containers with only loopback, tests).
var AlwaysOnline NetworkStatus = NetworkStatusFunc(func() bool { return true })

// InterfaceStatus reports online when at least one non-loopback interface is
// up and carries an address.
type InterfaceStatus struct{}

func (InterfaceStatus) Online() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

// Config configures a Probe.
type Config struct {
	APIKey     string
	Timeout    time.Duration
	DNSTimeout time.Duration
	// DNSCheck adds a HEAD request against the backend host before the
	// settings request, failing fast when the name does not resolve.
	DNSCheck bool
	Client   *http.Client
	Network  NetworkStatus
	Logger   logrus.FieldLogger
}

// Probe is safe for concurrent use.
type Probe struct {
	apiKey     string
	timeout    time.Duration
	dnsTimeout time.Duration
	dnsCheck   bool
	client     *http.Client
	network    NetworkStatus
	logger     logrus.FieldLogger
}

// New builds a Probe, filling zero fields with defaults.
func New(cfg Config) *Probe {
	p := &Probe{
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		dnsTimeout: cfg.DNSTimeout,
		dnsCheck:   cfg.DNSCheck,
		client:     cfg.Client,
		network:    cfg.Network,
		logger:     cfg.Logger,
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.dnsTimeout <= 0 {
		p.dnsTimeout = DefaultDNSTimeout
	}
	if p.client == nil {
		p.client = &http.Client{}
	}
	if p.network == nil {
		p.network = InterfaceStatus{}
	}
	if p.logger == nil {
		p.logger = logrus.StandardLogger().WithField("component", "probe")
	}
	return p
}

// Online reports the host-level network status.
func (p *Probe) Online() bool {
	return p.network.Online()
}

// Reachable reports whether backendURL answers its settings endpoint with a
// 2xx status within the probe timeout.
func (p *Probe) Reachable(ctx context.Context, backendURL string) bool {
	base, ok := parseBase(backendURL)
	if !ok {
		p.logger.WithField("url", backendURL).Warn("backend url missing or malformed")
		return false
	}
	if !p.network.Online() {
		p.logger.Debug("host offline, skipping reachability check")
		return false
	}
	if p.dnsCheck && !p.ResolveHost(ctx, base.Scheme+"://"+base.Host) {
		p.logger.WithField("host", base.Host).Warn("cannot resolve backend hostname")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String()+SettingsPath, nil)
	if err != nil {
		return false
	}
	req.Header.Set("apikey", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.WithError(err).Warn("backend connectivity check failed")
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.logger.WithField("status", resp.StatusCode).Warn("backend connectivity check rejected")
		return false
	}
	p.logger.Debug("backend reachable")
	return true
}

// ResolveHost reports whether host (a bare host name or an origin such as
// "https://host:port") answers a HEAD request within the DNS
// timeout. Any HTTP response counts; only transport failures mean false.
func (p *Probe) ResolveHost(ctx context.Context, host string) bool {
	if host == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.dnsTimeout)
	defer cancel()

	target := host
	if !strings.Contains(host, "://") {
		target = "https://" + host
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target+"/favicon.ico", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.WithError(err).WithField("host", host).Debug("dns resolution failed")
		return false
	}
	resp.Body.Close()
	return true
}

func parseBase(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, true
}
