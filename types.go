package authgate

import (
	"time"

	"github.com/MrEthical07/authgate/backup"
	"github.com/MrEthical07/authgate/remote"
)

// Identity is the authenticated principal shared by both backends.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SessionSource names the backend that issued a session or served a call.
type SessionSource string

const (
	// SourceRemote marks results served by the remote identity backend.
	SourceRemote SessionSource = "remote"
	// SourceBackup marks results served by the in-process backup store.
	SourceBackup SessionSource = "backup"
	// SourceNone marks results that did not reach either backend.
	SourceNone SessionSource = "none"
)

// Session is the record of an authenticated identity returned to callers.
//
// Token is the handle callers pass back to [Facade.SignOut] and
// [Facade.GetSession]. Durable is false for sessions issued by the backup
// store: they disappear when the process exits.
type Session struct {
	Token        string        `json:"token"`
	User         Identity      `json:"user"`
	Source       SessionSource `json:"source"`
	AccessToken  string        `json:"access_token,omitempty"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time     `json:"expires_at,omitempty"`
	Durable      bool          `json:"durable"`
}

// Credentials carries the email/password pair for sign-up and sign-in.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Data is the success payload of a [Result].
//
// GetSession with no active session returns a Data whose Session is nil.
// SignOut returns an empty Data.
type Data struct {
	User    *Identity `json:"user,omitempty"`
	Session *Session  `json:"session"`
}

// Result is the uniform return shape of every Facade operation. Exactly one
// of Data and Error is non-nil.
type Result struct {
	Data   *Data         `json:"data"`
	Error  *ErrorInfo    `json:"error"`
	Served SessionSource `json:"-"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Error == nil
}

func success(data *Data, served SessionSource) Result {
	if data == nil {
		data = &Data{}
	}
	return Result{Data: data, Served: served}
}

func failure(info *ErrorInfo, served SessionSource) Result {
	if info == nil {
		info = newErrorInfo(KindUnknown, "")
	}
	return Result{Error: info, Served: served}
}

func sessionData(s *Session) *Data {
	if s == nil {
		return &Data{}
	}
	user := s.User
	return &Data{User: &user, Session: s}
}

func fromBackupSession(s backup.Session) *Session {
	return &Session{
		Token:   s.Token,
		User:    Identity{ID: s.User.ID, Email: s.User.Email},
		Source:  SourceBackup,
		Durable: false,
	}
}

// fromRemoteSession returns nil when the grant carries no access token, as
// happens for sign-ups awaiting email confirmation.
func fromRemoteSession(s *remote.Session) *Session {
	if s == nil || s.AccessToken == "" {
		return nil
	}
	return &Session{
		Token:        s.AccessToken,
		User:         Identity{ID: s.User.ID, Email: s.User.Email},
		Source:       SourceRemote,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		Durable:      true,
	}
}
