// Package profiler defines the unified result contract (C6) shared by
// pkg/memprof and pkg/sysprof: the Status enum and the Error type that
// preserves the sink's original cause across the public Start/Stop calls.
// It intentionally has no dependency on either profiler package — it is
// the leaf "shared header" both import, mirroring how lj_memprof.h's
// PROFILE_* codes are the one place both of LuaJIT's profilers agree on
// their return contract.
package profiler

import "fmt"

// Status is one of the unified return codes from spec.md §4.6.
type Status int

const (
	// Success indicates the operation completed normally.
	Success Status = iota
	// ErrUse indicates invalid options or operating on the wrong VM.
	ErrUse
	// ErrRun indicates start-while-already-running, or stop while not
	// running.
	ErrRun
	// ErrMem indicates an allocation failure in a resolver buffer.
	ErrMem
	// ErrIO indicates the sink refused bytes or returned an error, or
	// that a mid-run halt was pending at the next Stop call.
	ErrIO
)

func (s Status) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case ErrUse:
		return "ERRUSE"
	case ErrRun:
		return "ERRRUN"
	case ErrMem:
		return "ERRMEM"
	case ErrIO:
		return "ERRIO"
	default:
		return "UNKNOWN"
	}
}

// Error wraps a non-Success Status with the cause that produced it (the Go
// rendering of "errno preserved across on_stop": Cause is captured before
// any cleanup callback runs and returned regardless of what that callback
// does). For validation failures (ErrUse, ErrRun) Cause is one of the
// sentinel errors below.
type Error struct {
	Status Status
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("profiler: %s", e.Status)
	}
	return fmt.Sprintf("profiler: %s: %v", e.Status, e.Cause)
}

// Unwrap exposes Cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error, a small convenience used throughout memprof/sysprof.
func New(status Status, cause error) *Error {
	return &Error{Status: status, Cause: cause}
}

// Sentinel validation errors, checked with errors.Is against Error.Cause.
// Package-level sentinel vars with a one-line doc each, the same style
// ja7ad-consumption uses in pkg/system/proc/errs.go.
var (
	// ErrNotRunning is returned by Stop when the profiler is IDLE.
	ErrNotRunning = sentinel("profiler: not running")
	// ErrAlreadyRunning is returned by Start when the profiler is already
	// PROFILE.
	ErrAlreadyRunning = sentinel("profiler: already running")
	// ErrWrongVM is returned when Stop is called against a VM other than
	// the one currently being profiled.
	ErrWrongVM = sentinel("profiler: wrong vm")
	// ErrMissingOption is returned when a required Options field is unset.
	ErrMissingOption = sentinel("profiler: missing required option")
)

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

func sentinel(msg string) error { return sentinelError(msg) }
