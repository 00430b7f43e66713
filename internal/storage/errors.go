package storage

import (
	"errors"
	"fmt"
)

// Kind classifies storage errors into the closed set of failure modes the
// API layer maps to responses. Every error returned by the storage core is
// either a *Error carrying one of these kinds or wraps one.
type Kind int

const (
	// KindTraversal marks an attempt to resolve a path outside its user root.
	// Callers should treat these as security-relevant events, not ordinary
	// client mistakes.
	KindTraversal Kind = iota + 1

	// KindMalformed marks a path that is empty, unparseable, contains
	// forbidden characters, or exceeds the configured length limits.
	KindMalformed

	// KindNotFound marks a missing node or an unknown upload session.
	KindNotFound

	// KindConflict marks a destination that already exists, or a duplicate
	// active upload session for the same destination.
	KindConflict

	// KindInvalid marks a bad chunk index or a session that is not in the
	// state the operation requires.
	KindInvalid

	// KindIncomplete marks a finalize attempt with missing chunks or an
	// undeclared total.
	KindIncomplete

	// KindIO marks an underlying filesystem failure (disk full, permissions).
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindTraversal:
		return "traversal"
	case KindMalformed:
		return "malformed"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindInvalid:
		return "invalid"
	case KindIncomplete:
		return "incomplete"
	case KindIO:
		return "io failure"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by storage operations. Path, when set,
// is always the normalized relative path, never an absolute filesystem path,
// so it is safe to surface to clients.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "put", "beginUpload"
	Path string // normalized relative path, may be empty
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s %q: %s: %v", e.Op, e.Path, e.Kind, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s %q: %s", e.Op, e.Path, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds a *Error without an underlying cause.
func newError(kind Kind, op, path string) *Error {
	return &Error{Kind: kind, Op: op, Path: path}
}

// wrapError builds a *Error around an underlying cause.
func wrapError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf returns the Kind carried by err, or 0 if err is not a storage error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
