package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation decisions: transient errors are
// retried locally, connection errors trip circuit breakers, validation and
// trading errors surface immediately, fatal errors force a session halt.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConnection means a dependency was unreachable.
	KindConnection
	// KindValidation means a malformed config or request. Fatal at startup,
	// rejected at call time otherwise. Never retried.
	KindValidation
	// KindTrading means the brokerage rejected an order.
	KindTrading
	// KindRiskVeto is a deliberate no-trade decision. Not a failure.
	KindRiskVeto
	// KindTransient means a timeout or requote that may succeed on retry.
	KindTransient
	// KindFatal means corrupted shared state. Forces Halted.
	KindFatal
	// KindUnavailable means a call was denied by the rate limiter or an open
	// circuit breaker before any invocation happened. Distinct from a call
	// failure so callers can take a fallback path without double-counting
	// against the breaker.
	KindUnavailable
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindValidation:
		return "validation"
	case KindTrading:
		return "trading"
	case KindRiskVeto:
		return "risk_veto"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is a classified error with optional wrapped cause.
type Error struct {
	Knd Kind
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Knd, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Knd, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Knd: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Knd: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. Returns nil if err is nil.
func Wrap(kind Kind, msg string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Knd: kind, Msg: msg, Err: err}
}

// KindOf returns the classification of err, walking the wrap chain.
// Unwrapped errors report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Knd
	}
	return KindUnknown
}

// IsTransient reports whether err should be retried locally.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsUnavailable reports whether err is a resilience-layer denial rather
// than a real call failure.
func IsUnavailable(err error) bool {
	return KindOf(err) == KindUnavailable
}

// IsFatal reports whether err must halt the session.
func IsFatal(err error) bool {
	return KindOf(err) == KindFatal
}

// CountsAgainstBreaker reports whether err should increment a circuit
// breaker's consecutive-failure count. Denials, vetoes and validation
// rejections do not: the dependency itself never misbehaved.
func CountsAgainstBreaker(err error) bool {
	switch KindOf(err) {
	case KindUnavailable, KindRiskVeto, KindValidation:
		return false
	default:
		return true
	}
}
