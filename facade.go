package authgate

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authgate/backup"
	"github.com/MrEthical07/authgate/remote"
	"github.com/sirupsen/logrus"
)

const offlineMessage = "You are offline. Please check your internet connection."

// Prober reports host connectivity and remote backend reachability.
// *probe.Probe implements it.
type Prober interface {
	Online() bool
	Reachable(ctx context.Context, backendURL string) bool
}

// RemoteBackend is the hosted identity service. *remote.Client implements it.
type RemoteBackend interface {
	SignUp(ctx context.Context, email, password string) (*remote.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*remote.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*remote.User, error)
}

// BackupBackend is the in-process fallback. *backup.Store implements it.
type BackupBackend interface {
	SignUp(ctx context.Context, email, password string) (backup.Session, error)
	SignIn(ctx context.Context, email, password string) (backup.Session, error)
	SignOut(ctx context.Context, token string) error
	GetSession(ctx context.Context, token string) (*backup.Session, error)
	Has(token string) bool
}

// Facade is the single authentication entry point. Every operation returns a
// Result of the same shape whichever backend served it.
//
// Facade is safe for concurrent use. Call Close to stop background
// reconciliation and flush audit events.
type Facade struct {
	config       Config
	backendURL   string
	prober       Prober
	remote       RemoteBackend
	backup       BackupBackend
	availability *Availability
	metrics      *Metrics
	audit        *auditDispatcher
	logger       logrus.FieldLogger
	reconciler   *reconciler
	closed       atomic.Bool

	sleep func(ctx context.Context, d time.Duration) error
}

type operation struct {
	name        string
	auditEvent  string
	okMetric    MetricID
	failMetric  MetricID
	fallbackMsg string
	// routeBackup forces the backup store regardless of availability.
	routeBackup bool

	remote func(ctx context.Context) (*Data, error)
	backup func(ctx context.Context) (*Data, error)
}

// SignUp registers a new identity and, when the backend issues one, opens a
// session for it.
func (f *Facade) SignUp(ctx context.Context, creds Credentials) Result {
	if creds.Email == "" || creds.Password == "" {
		return f.reject(KindInvalidInput, MetricSignUpFailure)
	}
	return f.run(ctx, operation{
		name:        "sign_up",
		auditEvent:  auditEventSignUp,
		okMetric:    MetricSignUpSuccess,
		failMetric:  MetricSignUpFailure,
		fallbackMsg: "Registration failed. Please check your network connection and try again.",
		remote: func(ctx context.Context) (*Data, error) {
			s, err := f.remote.SignUp(ctx, creds.Email, creds.Password)
			if err != nil {
				return nil, err
			}
			user := Identity{ID: s.User.ID, Email: s.User.Email}
			return &Data{User: &user, Session: fromRemoteSession(s)}, nil
		},
		backup: func(ctx context.Context) (*Data, error) {
			s, err := f.backup.SignUp(ctx, creds.Email, creds.Password)
			if err != nil {
				return nil, err
			}
			return sessionData(fromBackupSession(s)), nil
		},
	})
}

// SignIn checks credentials and opens a session.
func (f *Facade) SignIn(ctx context.Context, creds Credentials) Result {
	if creds.Email == "" || creds.Password == "" {
		return f.reject(KindInvalidInput, MetricSignInFailure)
	}
	return f.run(ctx, operation{
		name:        "sign_in",
		auditEvent:  auditEventSignIn,
		okMetric:    MetricSignInSuccess,
		failMetric:  MetricSignInFailure,
		fallbackMsg: "Login failed. Please check your network connection and try again.",
		remote: func(ctx context.Context) (*Data, error) {
			s, err := f.remote.SignInWithPassword(ctx, creds.Email, creds.Password)
			if err != nil {
				return nil, err
			}
			return sessionData(fromRemoteSession(s)), nil
		},
		backup: func(ctx context.Context) (*Data, error) {
			s, err := f.backup.SignIn(ctx, creds.Email, creds.Password)
			if err != nil {
				return nil, err
			}
			return sessionData(fromBackupSession(s)), nil
		},
	})
}

// SignOut ends the session named by token. Unknown or already-ended handles
// succeed.
func (f *Facade) SignOut(ctx context.Context, token string) Result {
	return f.run(ctx, operation{
		name:        "sign_out",
		auditEvent:  auditEventSignOut,
		okMetric:    MetricSignOut,
		failMetric:  MetricSignOut,
		fallbackMsg: "Sign out failed.",
		routeBackup: f.issuedByBackup(token),
		remote: func(ctx context.Context) (*Data, error) {
			return &Data{}, f.remote.SignOut(ctx, token)
		},
		backup: func(ctx context.Context) (*Data, error) {
			return &Data{}, f.backup.SignOut(ctx, token)
		},
	})
}

// GetSession returns the session named by token. A missing or ended session
// is a success with a nil Session.
func (f *Facade) GetSession(ctx context.Context, token string) Result {
	return f.run(ctx, operation{
		name:        "get_session",
		okMetric:    MetricSessionLookup,
		failMetric:  MetricSessionLookup,
		fallbackMsg: "Session lookup failed.",
		routeBackup: f.issuedByBackup(token),
		remote: func(ctx context.Context) (*Data, error) {
			u, err := f.remote.GetUser(ctx, token)
			if err != nil || u == nil {
				return &Data{}, err
			}
			return sessionData(&Session{
				Token:       token,
				User:        Identity{ID: u.ID, Email: u.Email},
				Source:      SourceRemote,
				AccessToken: token,
				Durable:     true,
			}), nil
		},
		backup: func(ctx context.Context) (*Data, error) {
			s, err := f.backup.GetSession(ctx, token)
			if err != nil || s == nil {
				return &Data{}, err
			}
			return sessionData(fromBackupSession(*s)), nil
		},
	})
}

// Availability returns the current remote availability record.
func (f *Facade) Availability() AvailabilitySnapshot {
	return f.availability.Snapshot()
}

// Probe re-checks the remote backend now and records the result. Without a
// configured backend it only returns the snapshot.
func (f *Facade) Probe(ctx context.Context) AvailabilitySnapshot {
	if ctx == nil {
		ctx = context.Background()
	}
	if f.remote != nil && !f.closed.Load() {
		f.probeOnce(ctx)
	}
	return f.availability.Snapshot()
}

// MetricsSnapshot returns a copy of the in-process counters.
func (f *Facade) MetricsSnapshot() MetricsSnapshot {
	return f.metrics.Snapshot()
}

// AuditDropped returns the number of audit events dropped on a full buffer.
func (f *Facade) AuditDropped() uint64 {
	return f.audit.Dropped()
}

// Close stops reconciliation, waits for it to exit and flushes pending audit
// events. Calls made after Close fail with ErrFacadeClosed.
func (f *Facade) Close() {
	if f == nil || f.closed.Swap(true) {
		return
	}
	f.reconciler.stop()
	f.audit.Close()
}

func (f *Facade) run(ctx context.Context, op operation) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	if f.closed.Load() {
		return failure(newErrorInfo(KindUnknown, ErrFacadeClosed.Error()), SourceNone)
	}
	log := f.logger.WithField("op", op.name)
	if id := requestIDFromContext(ctx); id != "" {
		log = log.WithField("request_id", id)
	}

	f.ensureChecked(ctx)

	if !f.prober.Online() {
		log.Debug("host offline, rejecting call")
		f.metrics.Inc(MetricOfflineRejected)
		f.metrics.Inc(op.failMetric)
		f.emitAudit(ctx, auditEventOffline, SourceNone, nil, ErrOffline, map[string]string{"op": op.name})
		return failure(newErrorInfo(KindOffline, offlineMessage), SourceNone)
	}

	if f.remote != nil && !op.routeBackup && f.availability.State() != StateUnavailable {
		start := time.Now()
		data, err := op.remote(ctx)
		f.metrics.Observe(MetricRemoteLatency, time.Since(start))
		switch {
		case err == nil:
			log.Debug("served by remote backend")
			return f.finish(ctx, op, SourceRemote, data, nil)
		case !remote.IsTransport(err) || ctx.Err() != nil:
			return f.finish(ctx, op, SourceRemote, nil, err)
		}
		log.WithError(err).Warn("remote backend unreachable, falling back to backup store")
		f.metrics.Inc(MetricFailover)
		f.emitAudit(ctx, auditEventFailover, SourceBackup, nil, err, map[string]string{"op": op.name})
	}

	log.Debug("served by backup store")
	data, err := op.backup(ctx)
	if err == nil && data.Session != nil && !data.Session.Durable {
		log.WithField("user_id", data.Session.User.ID).Warn("session issued from memory, it will not survive a restart")
	}
	return f.finish(ctx, op, SourceBackup, data, err)
}

func (f *Facade) finish(ctx context.Context, op operation, served SessionSource, data *Data, err error) Result {
	if err != nil {
		info := f.normalize(ctx, err, op.fallbackMsg)
		f.metrics.Inc(op.failMetric)
		if op.auditEvent != "" {
			f.emitAudit(ctx, op.auditEvent, served, nil, info, nil)
		}
		if info.Kind == KindUnknown {
			f.logger.WithField("op", op.name).WithError(err).Error("authentication call failed")
		}
		return failure(info, served)
	}

	f.metrics.Inc(op.okMetric)
	if served == SourceRemote {
		f.metrics.Inc(MetricServedRemote)
	} else {
		f.metrics.Inc(MetricServedBackup)
	}
	if op.auditEvent != "" {
		f.emitAudit(ctx, op.auditEvent, served, data.Session, nil, nil)
	}
	return success(data, served)
}

// normalize maps backend errors onto the shared ErrorInfo shape.
func (f *Facade) normalize(ctx context.Context, err error, fallback string) *ErrorInfo {
	var apiErr *remote.APIError
	switch {
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return newErrorInfo(KindCanceled, "")
	case errors.As(err, &apiErr):
		return newErrorInfo(KindRemote, apiErr.Message)
	case errors.Is(err, backup.ErrAlreadyExists):
		return newErrorInfo(KindAlreadyExists, err.Error())
	case errors.Is(err, backup.ErrNotFound):
		return newErrorInfo(KindNotFound, err.Error())
	case errors.Is(err, backup.ErrInvalidCredentials):
		return newErrorInfo(KindInvalidCredentials, err.Error())
	case errors.Is(err, backup.ErrInvalidInput):
		return newErrorInfo(KindInvalidInput, err.Error())
	case remote.IsTransport(err):
		return newErrorInfo(KindBackendUnreachable, "")
	default:
		return newErrorInfo(KindUnknown, fallback)
	}
}

func (f *Facade) reject(kind ErrorKind, metric MetricID) Result {
	f.metrics.Inc(metric)
	return failure(newErrorInfo(kind, ""), SourceNone)
}

// issuedByBackup keeps handles issued while degraded on the store that holds
// them, even after the remote backend comes back.
func (f *Facade) issuedByBackup(token string) bool {
	return f.backup.Has(token)
}

// ensureChecked runs the on-demand probe while availability is unknown.
func (f *Facade) ensureChecked(ctx context.Context) {
	if f.remote == nil || !f.config.Probe.OnDemand {
		return
	}
	if f.availability.State() != StateUnknown {
		return
	}
	attempts := f.config.Probe.OnDemandAttempts
	for i := 0; i < attempts; i++ {
		if f.probeOnce(ctx) {
			return
		}
		if i < attempts-1 {
			if err := f.sleep(ctx, f.config.Probe.OnDemandPause); err != nil {
				return
			}
		}
	}
}

// probeOnce checks reachability once and records the result.
func (f *Facade) probeOnce(ctx context.Context) bool {
	ok := f.prober.Reachable(ctx, f.backendURL)
	if ok {
		f.metrics.Inc(MetricProbeSuccess)
	} else {
		f.metrics.Inc(MetricProbeFailure)
	}

	before, after := f.availability.Record(ok)
	if before != after {
		f.logger.WithFields(logrus.Fields{
			"from": before.String(),
			"to":   after.String(),
		}).Info("remote backend availability changed")
		event := auditEventBackendUnavailable
		if after == StateAvailable {
			event = auditEventBackendAvailable
		}
		f.emitAudit(ctx, event, SourceNone, nil, nil, map[string]string{"from": before.String()})
	}
	return ok
}

func (f *Facade) emitAudit(ctx context.Context, eventType string, served SessionSource, s *Session, err error, meta map[string]string) {
	if f.audit == nil {
		return
	}
	event := AuditEvent{
		EventType: eventType,
		RequestID: requestIDFromContext(ctx),
		IP:        clientIPFromContext(ctx),
		Served:    served,
		Success:   err == nil,
		Metadata:  meta,
	}
	if s != nil {
		event.UserID = s.User.ID
		event.Durable = s.Durable
	}
	if err != nil {
		event.Error = err.Error()
	}
	f.audit.Emit(ctx, event)
}
