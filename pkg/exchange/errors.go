package exchange

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures so callers can decide whether to back off,
// correct input or wait for the supervisor to reconnect.
type ErrorKind uint8

const (
	KindValidation ErrorKind = iota + 1
	KindRateLimited
	KindConnection
	KindRemoteRejection
	KindNotConnected
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRateLimited:
		return "rate limited"
	case KindConnection:
		return "connection"
	case KindRemoteRejection:
		return "remote rejection"
	case KindNotConnected:
		return "not connected"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its kind.
var (
	ErrValidation      = errors.New("exchange: validation failed")
	ErrRateLimited     = errors.New("exchange: rate limited")
	ErrConnection      = errors.New("exchange: connection failed")
	ErrRemoteRejection = errors.New("exchange: rejected by venue")
	ErrNotConnected    = errors.New("exchange: not connected")
)

// Error is the typed failure returned by the adapter.
type Error struct {
	Kind  ErrorKind
	Op    string
	Venue string
	// Msg is the venue's own message for remote rejections.
	Msg string
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("exchange")
	if e.Venue != "" {
		b.WriteString(" ")
		b.WriteString(e.Venue)
	}
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrConnection:
		return e.Kind == KindConnection
	case ErrRemoteRejection:
		return e.Kind == KindRemoteRejection
	case ErrNotConnected:
		return e.Kind == KindNotConnected
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Rejected builds a remote-rejection error. Venues return it when the call
// reached the venue and was declined, so the adapter can surface msg verbatim.
func Rejected(msg string) error {
	return &Error{Kind: KindRemoteRejection, Msg: msg}
}

func validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Invalidf builds a validation error for callers composing adapter calls,
// so their input failures match ErrValidation like the adapter's own.
func Invalidf(op, format string, args ...any) error {
	return validationf(op, format, args...)
}
