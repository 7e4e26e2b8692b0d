// Package herr defines the daemon-wide error taxonomy and the errors.As
// dispatch helpers used to turn an internal error into the right response at
// the bridge boundary.
package herr

import (
	"errors"
	"fmt"
)

// Code enumerates the categories of failure a command can surface.
type Code int

const (
	// CodeUnknown is the zero value; never construct an Error with it.
	CodeUnknown Code = iota
	// CodeSendFailed indicates the swarm actor could not deliver a command
	// to its destination (closed channel, unrouteable peer).
	CodeSendFailed
	// CodeReplyDropped indicates a waiter's reply channel was dropped
	// before a response arrived (actor shutdown, sub-actor panic recovery).
	CodeReplyDropped
	// CodeBehavior indicates the underlying libp2p behaviour rejected the
	// operation (dial failure, stream reset, protocol negotiation failure).
	CodeBehavior
	// CodeTimeout indicates an operation exceeded its deadline.
	CodeTimeout
	// CodeNotFound indicates a requested resource (peer, topic, record,
	// application, provider) does not exist.
	CodeNotFound
	// CodeInvalidArgument indicates a caller-supplied argument failed
	// validation (malformed regex, malformed peer ID, empty topic).
	CodeInvalidArgument
	// CodeHashMismatch indicates a downloaded file's digest did not match
	// its Cid; the partial file has already been deleted.
	CodeHashMismatch
)

func (c Code) String() string {
	switch c {
	case CodeSendFailed:
		return "send_failed"
	case CodeReplyDropped:
		return "reply_dropped"
	case CodeBehavior:
		return "behavior"
	case CodeTimeout:
		return "timeout"
	case CodeNotFound:
		return "not_found"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeHashMismatch:
		return "hash_mismatch"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across package boundaries in
// this daemon.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an Error wrapping an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the Code of err if it is (or wraps) an *Error, and
// CodeUnknown otherwise.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Is reports whether err is an *Error carrying the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
