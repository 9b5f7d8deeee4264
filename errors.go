package sophia

import (
	"errors"
	"fmt"
)

// ErrKind classifies an Error the way sp.c's error kinds do: generic
// misuse, allocation failure, filesystem I/O, and lock/thread syscall
// failure. Fatal-ness is tracked separately (Error.Fatal), matching the
// spec's EF flag being orthogonal to the error's kind.
type ErrKind uint8

const (
	// KindGeneric covers logic and misuse errors (bad arguments, invalid
	// state transitions).
	KindGeneric ErrKind = iota
	// KindOOM marks an allocation failure.
	KindOOM
	// KindIO marks a filesystem I/O failure.
	KindIO
	// KindSys marks a lock/thread syscall failure.
	KindSys
)

func (k ErrKind) String() string {
	switch k {
	case KindOOM:
		return "oom"
	case KindIO:
		return "io"
	case KindSys:
		return "sys"
	default:
		return "generic"
	}
}

// Error is the engine's error type: a kind, an optional fatal flag, a
// message, and an optional wrapped cause. Engines retain the first Error
// recorded on them (first-error-wins), mirroring the e/em slot pair from
// the design notes; an environment's slot holds its most recent Error.
type Error struct {
	Kind    ErrKind
	Fatal   bool
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sophia: %s: %v", e.Message, e.Cause)
	}
	return "sophia: " + e.Message
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapErr(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func fatalErr(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Fatal: true, Message: msg, Cause: cause}
}

// Sentinel errors surfaced for common precondition violations, checked
// with errors.Is at call sites.
var (
	// ErrClosed is returned by any method called on a handle after
	// Close/Destroy has already torn it down.
	ErrClosed = errors.New("sophia: handle is closed")
	// ErrDirRequired is returned by Open when the environment has no dir set.
	ErrDirRequired = errors.New("sophia: directory is not specified")
	// ErrInUse is returned by Env configuration methods called while the
	// environment is bound to an open engine.
	ErrInUse = errors.New("sophia: environment is in use")
	// ErrReadOnly is returned by any mutating operation on a read-only engine.
	ErrReadOnly = errors.New("sophia: engine is read-only")
	// ErrCursorOpen is returned by set/delete/begin/commit/rollback while a
	// cursor is open on the engine.
	ErrCursorOpen = errors.New("sophia: modify with open cursor")
	// ErrNoTransaction is returned by commit/rollback outside a transaction.
	ErrNoTransaction = errors.New("sophia: no active transaction")
	// ErrTransactionActive is returned by begin while already inside one.
	ErrTransactionActive = errors.New("sophia: transaction already active")
	// ErrMergeActive is returned by MergeForce while the background merger
	// thread is running (to avoid a dual-driver race).
	ErrMergeActive = errors.New("sophia: merger task is active")
	// ErrNotFound is returned by Get when the key has no current value.
	ErrNotFound = errors.New("sophia: key not found")
)
