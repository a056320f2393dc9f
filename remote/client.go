// Package remote talks to a GoTrue-compatible identity backend over HTTP.
//
// Only the four calls the gateway needs are implemented: sign-up, password
// sign-in, sign-out and user lookup. Transport failures are wrapped in
// [ErrTransport] so callers can tell "backend unreachable" apart from
// "backend said no" ([*APIError]).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
)

const (
	signUpPath = "/auth/v1/signup"
	tokenPath  = "/auth/v1/token?grant_type=password"
	logoutPath = "/auth/v1/logout"
	userPath   = "/auth/v1/user"

	maxBodyBytes   = 1 << 20
	DefaultTimeout = 10 * time.Second
)

var (
	// ErrTransport wraps network-level failures: dial errors, timeouts,
	// truncated bodies.
	ErrTransport = errors.New("remote transport failure")
	// ErrNotConfigured is returned when the client has no base URL or key.
	ErrNotConfigured = errors.New("remote backend not configured")
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote: %d %s", e.Status, e.Message)
}

// IsTransport reports whether err means the backend could not be reached.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// User is the subset of the backend's user object the gateway uses.
type User struct {
	ID    string
	Email string
}

// Session is a token grant. AccessToken is empty when sign-up requires
// email confirmation before a session is issued.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         User
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	now     func() time.Time
}

// NewClient returns a client for cfg. It fails only when BaseURL or APIKey is
// empty.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" || cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	c := &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http:    cfg.Client,
		now:     time.Now,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c, nil
}

// BaseURL returns the normalized backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUp registers a new account.
func (c *Client) SignUp(ctx context.Context, email, password string) (*Session, error) {
	body, err := c.do(ctx, http.MethodPost, signUpPath, "", credentials{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	return c.parseSession(body), nil
}

// SignInWithPassword exchanges credentials for a token grant.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body, err := c.do(ctx, http.MethodPost, tokenPath, "", credentials{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	return c.parseSession(body), nil
}

// SignOut revokes the session behind accessToken. An already-invalid token
// is treated as signed out.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	_, err := c.do(ctx, http.MethodPost, logoutPath, accessToken, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusNotFound) {
		return nil
	}
	return err
}

// GetUser returns the user behind accessToken, or nil when the token is
// missing, expired or revoked.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if accessToken == "" {
		return nil, nil
	}
	body, err := c.do(ctx, http.MethodGet, userPath, accessToken, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user := User{
		ID:    gjson.GetBytes(body, "id").String(),
		Email: gjson.GetBytes(body, "email").String(),
	}
	if user.ID == "" {
		user = claimsUser(accessToken)
	}
	return &user, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, payload any) ([]byte, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrTransport, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(body, resp.Status)}
	}
	return body, nil
}

func (c *Client) parseSession(body []byte) *Session {
	s := &Session{
		AccessToken:  gjson.GetBytes(body, "access_token").String(),
		RefreshToken: gjson.GetBytes(body, "refresh_token").String(),
	}
	if in := gjson.GetBytes(body, "expires_in").Int(); in > 0 && in <= maxExpiresIn {
		s.ExpiresAt = c.now().Add(time.Duration(in) * time.Second)
	} else if at := gjson.GetBytes(body, "expires_at").Int(); at > 0 {
		s.ExpiresAt = time.Unix(at, 0)
	}

	// Sign-up answers with the bare user object when confirmation is pending.
	user := gjson.GetBytes(body, "user")
	if !user.Exists() {
		user = gjson.ParseBytes(body)
	}
	s.User = User{
		ID:    user.Get("id").String(),
		Email: user.Get("email").String(),
	}

	if s.AccessToken != "" && (s.User.ID == "" || s.ExpiresAt.IsZero()) {
		fromToken := claimsUser(s.AccessToken)
		if s.User.ID == "" {
			s.User.ID = fromToken.ID
		}
		if s.User.Email == "" {
			s.User.Email = fromToken.Email
		}
		if s.ExpiresAt.IsZero() {
			s.ExpiresAt = claimsExpiry(s.AccessToken)
		}
	}
	return s
}

// maxExpiresIn bounds expires_in so the lifetime cannot overflow a
// time.Duration.
const maxExpiresIn = 1 << 31

type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// The gateway does not hold the backend's signing key, so claims are read
// without verification and used only to fill gaps in the response body.
func parseClaims(token string) *accessClaims {
	claims := &accessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

func claimsUser(token string) User {
	claims := parseClaims(token)
	if claims == nil {
		return User{}
	}
	return User{ID: claims.Subject, Email: claims.Email}
}

func claimsExpiry(token string) time.Time {
	claims := parseClaims(token)
	if claims == nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func errorMessage(body []byte, fallback string) string {
	for _, key := range []string{"msg", "error_description", "message", "error"} {
		if v := gjson.GetBytes(body, key); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return fallback
}
