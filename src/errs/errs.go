// Package errs defines the typed error taxonomy shared by every component.
// Handlers type-switch on these (via errors.Is/As) to pick an HTTP status
// instead of inspecting error strings.
package errs

import "errors"

// Kind identifies the semantic category of a failure, independent of the
// message text wrapped around it.
type Kind string

const (
	KindPTYCreationFailed  Kind = "pty_creation_failed"
	KindUnknownKey         Kind = "unknown_key"
	KindInvalidDimensions  Kind = "invalid_dimensions"
	KindResizeDisabled     Kind = "resize_disabled"
	KindSessionNotFound    Kind = "session_not_found"
	KindSessionExited      Kind = "session_already_exited"
	KindInvalidRequest     Kind = "invalid_request"
	KindAuthRequired       Kind = "auth_required"
	KindAuthRejected       Kind = "auth_rejected"
	KindRemoteUnreachable  Kind = "remote_unreachable"
	KindRemoteConflict     Kind = "remote_conflict"
	KindFileSystemError    Kind = "filesystem_error"
	KindStreamTruncated    Kind = "stream_truncated"
	KindMalformedFrame     Kind = "malformed_frame"
	KindAlreadyRegistered  Kind = "already_registered"
)

// Error is a typed error carrying a Kind alongside the usual wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with the given kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error wrapping an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning "" if err isn't an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
