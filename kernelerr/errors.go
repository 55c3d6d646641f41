// Package kernelerr defines the kernel's error taxonomy: resource
// exhaustion, bad handles, IPC protocol errors, and contract violations.
package kernelerr

import (
	"errors"
	"fmt"
)

// Code classifies a kernel error for programmatic handling (IsCode
// against any error, or errors.Is against another *Error carrying the
// same Code).
type Code int

const (
	// Unknown is the zero value; Error values constructed by this package
	// never carry it.
	Unknown Code = iota
	// OutOfMemory signals arena, chunk, or heap exhaustion.
	OutOfMemory
	// NotFound signals a stale or unallocated handle (task, future,
	// endpoint).
	NotFound
	// EndpointBusy signals a send/recv against an endpoint already
	// occupied by another caller in that role.
	EndpointBusy
	// EndpointNotFound signals lookup of an endpoint name that was never
	// registered, or was destroyed.
	EndpointNotFound
	// EndpointAlreadyExists signals duplicate endpoint registration.
	EndpointAlreadyExists
	// ContractViolation classifies a programming error in kernel-owned
	// data. No *Error is ever constructed with it: Halt panics instead of
	// returning, so the value exists to complete the taxonomy and to
	// classify recovered panics in diagnostics.
	ContractViolation
)

func (c Code) String() string {
	switch c {
	case OutOfMemory:
		return "out_of_memory"
	case NotFound:
		return "not_found"
	case EndpointBusy:
		return "endpoint_busy"
	case EndpointNotFound:
		return "endpoint_not_found"
	case EndpointAlreadyExists:
		return "endpoint_already_exists"
	case ContractViolation:
		return "contract_violation"
	default:
		return "unknown"
	}
}

// Error is the kernel's structured error type. It is always surfaced to
// the caller, never silently swallowed: syscalls lower it to the ABI
// failure sentinel, everything else returns it directly.
type Error struct {
	Op    string // operation that failed, e.g. "task.WaitFuture"
	Code  Code
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		if e.Inner != nil {
			return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Msg, e.Code, e.Inner)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Msg, e.Code)
	}
	if e.Inner != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Inner)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is against another *Error, matching when the two
// carry the same Code. Code itself is not an error value; use IsCode to
// test an arbitrary error for a specific code.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// New constructs a kernel error for op/code with a formatted message.
func New(op string, code Code, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs a kernel error for op/code wrapping an underlying cause.
func Wrap(op string, code Code, inner error) *Error {
	return &Error{Op: op, Code: code, Inner: inner}
}

// IsCode reports whether err is a *Error (at any wrapping depth) carrying
// the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// Halt panics with a message naming the invariant the caller broke,
// classified as a ContractViolation. Per the kernel's error-handling
// design, these are programming errors, not reportable runtime
// conditions, and are the only case where a kernel operation halts
// instead of returning an error.
func Halt(format string, args ...any) {
	panic(fmt.Sprintf("kernel contract violation: "+format, args...))
}
