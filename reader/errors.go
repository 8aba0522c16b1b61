package reader

import (
	"errors"
	"fmt"
)

// Kind classifies a reader-level failure so callers can branch on it with
// errors.Is against the matching sentinel, or type-switch on *Error.
type Kind int

const (
	KindBadConfig Kind = iota
	KindNotStarted
	KindNotFound
	KindIllegalMutation
	KindSourceError
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindBadConfig:
		return "bad_config"
	case KindNotStarted:
		return "not_started"
	case KindNotFound:
		return "not_found"
	case KindIllegalMutation:
		return "illegal_mutation"
	case KindSourceError:
		return "source_error"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Sentinel errors for errors.Is comparisons against Error.Unwrap.
var (
	ErrBadConfig       = errors.New("reader: bad config")
	ErrNotStarted      = errors.New("reader: not started")
	ErrNotFound        = errors.New("reader: not found")
	ErrIllegalMutation = errors.New("reader: illegal mutation")
	ErrSourceError     = errors.New("reader: source error")
	ErrCancelled       = errors.New("reader: cancelled")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindBadConfig:
		return ErrBadConfig
	case KindNotStarted:
		return ErrNotStarted
	case KindNotFound:
		return ErrNotFound
	case KindIllegalMutation:
		return ErrIllegalMutation
	case KindSourceError:
		return ErrSourceError
	case KindCancelled:
		return ErrCancelled
	default:
		return errors.New("reader: unknown error")
	}
}

// Error carries a Kind plus a human-readable message and optional wrapped
// cause, so callers can do both errors.Is(err, reader.ErrNotFound) and
// inspect err.(*reader.Error).Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reader: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("reader: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return sentinelFor(e.Kind)
}

func newErr(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Msg: msg, Err: cause}
}
