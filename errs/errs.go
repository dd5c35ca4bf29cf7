// Package errs provides structured error types and helpers shared across
// vivbliss-sync components.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies a structured error category, matching the taxonomy of
// the change-detection and outbox delivery core: config, storage,
// duplicate-key, transport, and logic errors.
type Code string

const (
	// CodeConfig indicates missing or invalid configuration (fatal at task entry).
	CodeConfig Code = "config_error"
	// CodeStorage indicates the database is unavailable or a constraint
	// violation occurred that dedupe policy does not absorb.
	CodeStorage Code = "storage_error"
	// CodeDuplicate indicates an expected duplicate-key collision that the
	// caller should treat as a safe, idempotent no-op.
	CodeDuplicate Code = "duplicate_key"
	// CodeTransport indicates a failure returned by the downstream chat transport.
	CodeTransport Code = "transport_error"
	// CodeLogic indicates a malformed incoming record rejected before any write.
	CodeLogic Code = "logic_error"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict (e.g. a failed claim CAS).
	CodeConflict Code = "conflict"
	// CodeInvalid indicates an invalid argument passed to a constructor or call.
	CodeInvalid Code = "invalid_argument"
	// CodeUnavailable indicates a component is closed or saturated and cannot accept work.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across vivbliss-sync.
type E struct {
	Op      string
	Code    Code
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given operation and error code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:   strings.TrimSpace(op),
		Code: code,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether err carries the given Code, unwrapping as necessary.
func Is(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*E); ok {
			if e.Code == code {
				return true
			}
			err = e.cause
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
