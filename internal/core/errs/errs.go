// Package errs defines the tagged error kinds returned by the pipeline.
package errs

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnknown           Kind = ""
	InvalidInput          Kind = "invalid_input"
	NoImageryFound        Kind = "no_imagery_found"
	RemoteTimeout         Kind = "remote_timeout"
	StatisticsMissingKeys Kind = "statistics_missing_keys"
	RenderingFailed       Kind = "rendering_failed"
	CacheWriteFailed      Kind = "cache_write_failed"
	Remote                Kind = "remote_error"
	NotFound              Kind = "not_found"
	Internal              Kind = "internal"
)

// Error carries a Kind alongside the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, errs.Of(RemoteTimeout)) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Of returns a bare sentinel for kind comparisons.
func Of(kind Kind) error { return &Error{Kind: kind} }

// KindOf walks the chain and returns the outermost tagged kind.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return RemoteTimeout
	}
	return Internal
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether a caller may offer a manual retry.
func Retryable(err error) bool {
	switch KindOf(err) {
	case RemoteTimeout, Remote:
		return true
	default:
		return false
	}
}
