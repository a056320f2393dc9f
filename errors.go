package authgate

import "errors"

var (
	// ErrOffline is returned when the host reports no network connectivity at all.
	ErrOffline = errors.New("network offline")
	// ErrBackendUnreachable is returned when neither backend could serve a call.
	ErrBackendUnreachable = errors.New("authentication backend unreachable")
	// ErrAlreadyExists is returned when signing up an email that is already registered.
	ErrAlreadyExists = errors.New("user already exists")
	// ErrNotFound is returned when signing in with an unknown email.
	ErrNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned when the password does not match.
	ErrInvalidCredentials = errors.New("invalid login credentials")
	// ErrRemote is the sentinel behind errors reported by the remote backend.
	ErrRemote = errors.New("remote backend error")
	// ErrInvalidInput is returned for empty email or password.
	ErrInvalidInput = errors.New("email and password are required")
	// ErrCanceled is returned when the caller abandoned the call.
	ErrCanceled = errors.New("request canceled")
	// ErrUnknown covers failures that fit no other kind.
	ErrUnknown = errors.New("authentication failed")
	// ErrFacadeClosed is returned by calls made after Close.
	ErrFacadeClosed = errors.New("facade closed")
	// ErrBuilderUsed is returned when Build is called twice on one Builder.
	ErrBuilderUsed = errors.New("builder already used")
)

// ErrorKind classifies a failed [Result] independently of the backend that
// produced it.
type ErrorKind string

const (
	KindOffline            ErrorKind = "offline"
	KindBackendUnreachable ErrorKind = "backend_unreachable"
	KindAlreadyExists      ErrorKind = "already_exists"
	KindNotFound           ErrorKind = "not_found"
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindRemote             ErrorKind = "remote_error"
	KindInvalidInput       ErrorKind = "invalid_input"
	KindCanceled           ErrorKind = "canceled"
	KindUnknown            ErrorKind = "unknown"
)

var kindSentinels = map[ErrorKind]error{
	KindOffline:            ErrOffline,
	KindBackendUnreachable: ErrBackendUnreachable,
	KindAlreadyExists:      ErrAlreadyExists,
	KindNotFound:           ErrNotFound,
	KindInvalidCredentials: ErrInvalidCredentials,
	KindRemote:             ErrRemote,
	KindInvalidInput:       ErrInvalidInput,
	KindCanceled:           ErrCanceled,
	KindUnknown:            ErrUnknown,
}

// ErrorInfo is the normalized error shape of a [Result]. Remote error objects
// and backup store errors both collapse into it.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func newErrorInfo(kind ErrorKind, message string) *ErrorInfo {
	if message == "" {
		if sentinel, ok := kindSentinels[kind]; ok {
			message = sentinel.Error()
		} else {
			message = ErrUnknown.Error()
		}
	}
	return &ErrorInfo{Kind: kind, Message: message}
}

func (e *ErrorInfo) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the sentinel for the error kind so errors.Is works against
// the package-level Err* values.
func (e *ErrorInfo) Unwrap() error {
	if e == nil {
		return nil
	}
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		return sentinel
	}
	return ErrUnknown
}
