package types

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure surfaced by the analysis core.
type Kind string

const (
	KindEngineNotReady        Kind = "engine_not_ready"
	KindDecode                Kind = "decode_error"
	KindAnalysis              Kind = "analysis_error"
	KindPhonemize             Kind = "phonemize_error"
	KindConnection            Kind = "connection_error"
	KindServer                Kind = "server_error"
	KindConnectionClosedEarly Kind = "connection_closed_early"
	KindTimeout               Kind = "timeout"
	KindSuperseded            Kind = "superseded"
	KindNotConfigured         Kind = "not_configured"
	KindCanceled              Kind = "canceled"
	KindSynthesis             Kind = "synthesis_error"
	KindInvalidArgument       Kind = "invalid_argument"
	KindInternal              Kind = "internal"
)

// Sentinel errors, one per [Kind]. An [*Error] matches the sentinel of its
// kind under [errors.Is].
var (
	ErrEngineNotReady        = &Error{Kind: KindEngineNotReady}
	ErrDecode                = &Error{Kind: KindDecode}
	ErrAnalysis              = &Error{Kind: KindAnalysis}
	ErrPhonemize             = &Error{Kind: KindPhonemize}
	ErrConnection            = &Error{Kind: KindConnection}
	ErrServer                = &Error{Kind: KindServer}
	ErrConnectionClosedEarly = &Error{Kind: KindConnectionClosedEarly}
	ErrTimeout               = &Error{Kind: KindTimeout}
	ErrSuperseded            = &Error{Kind: KindSuperseded}
	ErrNotConfigured         = &Error{Kind: KindNotConfigured}
	ErrCanceled              = &Error{Kind: KindCanceled}
	ErrSynthesis             = &Error{Kind: KindSynthesis}
	ErrInvalidArgument       = &Error{Kind: KindInvalidArgument}
)

// Error is a classified failure carrying a human-readable reason and an
// optional underlying cause.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

// Errorf builds an [*Error] of the given kind with a formatted reason.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap builds an [*Error] of the given kind around err. The reason defaults
// to err's message.
func Wrap(kind Kind, err error) *Error {
	e := &Error{Kind: kind, Err: err}
	if err != nil {
		e.Reason = err.Error()
	}
	return e
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any [*Error] with the same kind, so callers can test against the
// package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first [*Error] in err's chain, or
// [KindInternal] when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Classify converts any error into an [*Error]. Classified errors are
// returned as-is; context errors map to [KindTimeout] or [KindCanceled];
// everything else becomes fallback.
func Classify(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindTimeout, err)
	case errors.Is(err, context.Canceled):
		return Wrap(KindCanceled, err)
	}
	return Wrap(fallback, err)
}
