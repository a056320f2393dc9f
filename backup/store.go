package backup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/authgate/password"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyExists is returned by SignUp for a registered email.
	ErrAlreadyExists = errors.New("User already exists")
	// ErrNotFound is returned by SignIn for an unknown email.
	ErrNotFound = errors.New("User not found")
	// ErrInvalidCredentials is returned by SignIn when the password does not match.
	ErrInvalidCredentials = errors.New("Invalid login credentials")
	// ErrInvalidInput is returned when email or password is empty.
	ErrInvalidInput = errors.New("Email and password are required")
)

// User is an identity registered in the store.
type User struct {
	ID    string
	Email string
}

// Session binds a handle to a registered user.
type Session struct {
	Token     string
	User      User
	CreatedAt time.Time
}

// Delays is the artificial latency injected before each operation completes.
type Delays struct {
	SignUp     time.Duration `yaml:"sign_up"`
	SignIn     time.Duration `yaml:"sign_in"`
	SignOut    time.Duration `yaml:"sign_out"`
	GetSession time.Duration `yaml:"get_session"`
}

// DefaultDelays mirrors the latency of a typical hosted auth round trip.
func DefaultDelays() Delays {
	return Delays{
		SignUp:     800 * time.Millisecond,
		SignIn:     800 * time.Millisecond,
		SignOut:    300 * time.Millisecond,
		GetSession: 100 * time.Millisecond,
	}
}

type credential struct {
	user User
	hash string
}

// Store is safe for concurrent use.
type Store struct {
	delays Delays
	hasher *password.Argon2
	logger logrus.FieldLogger
	now    func() time.Time

	mu       sync.Mutex
	users    map[string]credential
	sessions map[string]Session
}

// Option configures a Store.
type Option func(*Store)

// WithDelays overrides the artificial latency.
func WithDelays(d Delays) Option {
	return func(s *Store) {
		s.delays = d
	}
}

// WithLogger sets the logger used for per-call debug output.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore builds an empty store that hashes credentials with hasher.
func NewStore(hasher *password.Argon2, opts ...Option) (*Store, error) {
	if hasher == nil {
		return nil, errors.New("backup: password hasher required")
	}
	s := &Store{
		delays:   DefaultDelays(),
		hasher:   hasher,
		logger:   logrus.StandardLogger().WithField("component", "backup"),
		now:      time.Now,
		users:    make(map[string]credential),
		sessions: make(map[string]Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SignUp registers email and opens a session for the new identity.
func (s *Store) SignUp(ctx context.Context, email, pass string) (Session, error) {
	s.logger.WithField("op", "sign_up").Debug("using backup authentication")
	if err := sleep(ctx, s.delays.SignUp); err != nil {
		return Session{}, err
	}
	if email == "" || pass == "" {
		return Session{}, ErrInvalidInput
	}

	s.mu.Lock()
	_, exists := s.users[email]
	s.mu.Unlock()
	if exists {
		return Session{}, ErrAlreadyExists
	}

	hash, err := s.hasher.Hash(pass)
	if err != nil {
		return Session{}, err
	}
	user := User{ID: "local-" + uuid.NewString(), Email: email}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have registered the same email while we hashed.
	if _, exists := s.users[email]; exists {
		return Session{}, ErrAlreadyExists
	}
	s.users[email] = credential{user: user, hash: hash}
	return s.openLocked(user), nil
}

// SignIn checks the credentials and opens a new session. A failed attempt
// leaves every existing session untouched.
func (s *Store) SignIn(ctx context.Context, email, pass string) (Session, error) {
	s.logger.WithField("op", "sign_in").Debug("using backup authentication")
	if err := sleep(ctx, s.delays.SignIn); err != nil {
		return Session{}, err
	}
	if email == "" || pass == "" {
		return Session{}, ErrInvalidInput
	}

	s.mu.Lock()
	cred, ok := s.users[email]
	s.mu.Unlock()
	if !ok {
		return Session{}, ErrNotFound
	}

	match, err := s.hasher.Verify(pass, cred.hash)
	if err != nil {
		return Session{}, err
	}
	if !match {
		return Session{}, ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(cred.user), nil
}

// SignOut drops the session for token. Unknown or empty tokens are not an
// error, so repeated calls are harmless.
func (s *Store) SignOut(ctx context.Context, token string) error {
	s.logger.WithField("op", "sign_out").Debug("using backup authentication")
	if err := sleep(ctx, s.delays.SignOut); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

// GetSession returns the session for token, or nil when there is none.
// The only possible error is context cancellation.
func (s *Store) GetSession(ctx context.Context, token string) (*Session, error) {
	s.logger.WithField("op", "get_session").Debug("using backup authentication")
	if err := sleep(ctx, s.delays.GetSession); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// Has reports whether token names an open session. Unlike GetSession it
// does not sleep; it exists so callers can route a handle to the store that
// issued it.
func (s *Store) Has(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[token]
	return ok
}

// Users returns the number of registered identities.
func (s *Store) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Sessions returns the number of open sessions.
func (s *Store) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Reset forgets every user and session.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[string]credential)
	s.sessions = make(map[string]Session)
}

func (s *Store) openLocked(user User) Session {
	sess := Session{
		Token:     uuid.NewString(),
		User:      user,
		CreatedAt: s.now(),
	}
	s.sessions[sess.Token] = sess
	return sess
}

func sleep(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
