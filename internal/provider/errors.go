package provider

import (
	"errors"
	"fmt"
)

// Kind classifies a provider failure by how callers recover from it.
type Kind string

const (
	// KindConnection is a transport-level failure; the provider retries
	// with backoff and callers may try again later.
	KindConnection Kind = "connection"
	// KindAuth means the platform session is invalid (QR expired, account
	// logged out); only re-linking helps.
	KindAuth Kind = "auth"
	// KindSend is a transient outbound failure; the message stays queued
	// and is retried on a later attempt.
	KindSend Kind = "send"
	// KindProtocol is an unrecoverable wire-contract violation.
	KindProtocol Kind = "protocol"
)

// ErrHistoryUnsupported is returned by providers whose platform offers no
// way to read past group messages.
var ErrHistoryUnsupported = errors.New("provider: history fetch not supported")

// Error is a kinded provider failure. Op names the operation in
// "provider.operation" form.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errf builds a kinded provider error from a format string.
func Errf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind and operation to an existing error. A nil err yields
// nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the failure kind from an error chain, or "" when the chain
// holds no provider error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether the error chain carries a provider error of the
// given kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }
