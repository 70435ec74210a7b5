package errors

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

var (
	// ErrUnauthorized is returned whenever the caller lacks the role an
	// operation requires: owner, emergency contact or authorized caller.
	ErrUnauthorized = Register(2, "unauthorized")

	// ErrNotFound is returned when a requested safe, transaction or limit
	// does not exist.
	ErrNotFound = Register(3, "not found")

	// ErrInput stands for general input problems indication.
	ErrInput = Register(4, "invalid input")

	// ErrModel is returned whenever an entity is invalid and cannot be
	// persisted.
	ErrModel = Register(5, "invalid model")

	// ErrDuplicate is returned when a record already exists under the
	// same unique key.
	ErrDuplicate = Register(6, "duplicate")

	// ErrHuman is returned when the application reaches a code path which
	// should not ever be reached if the code was written as expected.
	ErrHuman = Register(7, "coding error")

	// ErrEmpty is returned when a value fails a not empty assertion.
	ErrEmpty = Register(8, "value is empty")

	// ErrState is returned when an operation is attempted in a state that
	// forbids it, ie. confirming an already executed transaction.
	ErrState = Register(9, "invalid state")

	// ErrOverflow is returned when a computation cannot be completed
	// because the result value exceeds the type.
	ErrOverflow = Register(10, "value overflow")

	// ErrExpired is returned for transactions past their proposal
	// lifetime.
	ErrExpired = Register(11, "expired")

	// ErrQuorum is returned when a confirmation threshold or a recovery
	// approval quorum is not satisfied.
	ErrQuorum = Register(20, "threshold or quorum not met")

	// ErrTimeLock is returned when a recovery is finalized before its
	// mandatory waiting period elapsed.
	ErrTimeLock = Register(21, "time lock not elapsed")

	// ErrLimit is returned when an execution would overrun the spending
	// allowance of the current period.
	ErrLimit = Register(22, "spending limit exceeded")

	// ErrLedger is returned when the external ledger rejects a submitted
	// payload. This failure is terminal for the transaction.
	ErrLedger = Register(23, "ledger rejected")

	// ErrNonce is returned when a transaction nonce does not match the
	// nonce the ledger expects next.
	ErrNonce = Register(24, "nonce mismatch")

	// ErrPanic is only set when we recover from a panic, so we know to
	// redact potentially sensitive system info.
	ErrPanic = Register(111222, "panic")
)

// Register returns an error instance that should be used as the base for
// creating error instances during runtime.
//
// Popular root errors are declared in this package, but extensions may want
// to declare custom codes. This function ensures that no error code is used
// twice. Attempt to reuse an error code results in panic.
//
// Use this function only during a program startup phase.
func Register(code uint32, description string) *Error {
	if e, ok := usedCodes[code]; ok {
		panic(fmt.Sprintf("error with code %d is already registered: %q", code, e.desc))
	}
	err := &Error{
		code: code,
		desc: description,
	}
	usedCodes[err.code] = err
	return err
}

// usedCodes is keeping track of used codes to ensure their uniqueness. No
// two error instances should share the same error code.
var usedCodes = map[uint32]*Error{
	1: nil, // Error code 1 is reserved for non-custody errors and must not be used.
}

// Error represents a root error.
//
// The core is using root errors to categorize issues. Each instance created
// during the runtime should wrap one of the declared root errors. This
// allows error tests without string comparison and returning all errors to
// the client in a safe manner.
type Error struct {
	code uint32
	desc string
}

func (e Error) Error() string {
	return e.desc
}

// Code returns the unique code of this error kind.
func (e Error) Code() uint32 {
	return e.code
}

// New returns a new error. Returned instance is having the root cause set
// to this error. Below two lines are equal
//
//	e.New("my description")
//	Wrap(e, "my description")
func (e *Error) New(description string) error {
	return Wrap(e, description)
}

// Newf is basically New with formatting capabilities.
func (e *Error) Newf(description string, args ...interface{}) error {
	return e.New(fmt.Sprintf(description, args...))
}

// Is checks if given error instance is of a given kind/type. This involves
// unwrapping given error using the Cause method if available.
func (kind *Error) Is(err error) bool {
	// Reflect usage is necessary to correctly compare with
	// a nil implementation of an error.
	if kind == nil {
		if err == nil {
			return true
		}
		return reflect.ValueOf(err).IsNil()
	}

	for {
		if err == kind {
			return true
		}

		if c, ok := err.(causer); ok {
			err = c.Cause()
		} else {
			return false
		}
	}
}

// Wrap extends given error with an additional information.
//
// If err is nil, this returns nil, avoiding the need for an if statement
// when wrapping an error returned at the end of a function.
func Wrap(err error, description string) error {
	if err == nil {
		return nil
	}

	// If this error does not carry the stacktrace information yet, attach
	// one. This should be done only once per error at the lowest frame
	// possible (most inner wrap).
	if stackTrace(err) == nil {
		err = errors.WithStack(err)
	}

	return &wrappedError{
		parent: err,
		msg:    description,
	}
}

// Wrapf extends given error with an additional information.
//
// This function works like Wrap function with additional functionality of
// formatting the input as specified.
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

type wrappedError struct {
	// This error layer description.
	msg string
	// The underlying error that triggered this one.
	parent error
}

func (e *wrappedError) Error() string {
	return fmt.Sprintf("%s: %s", e.msg, e.parent.Error())
}

func (e *wrappedError) Cause() error {
	return e.parent
}

// stackTracer is implemented by errors carrying a stack trace as attached
// by the github.com/pkg/errors package.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// stackTrace returns the attached stack trace of the error chain, or nil
// when none of the layers carries one.
func stackTrace(err error) errors.StackTrace {
	for ; err != nil; err = cause(err) {
		if st, ok := err.(stackTracer); ok {
			return st.StackTrace()
		}
	}
	return nil
}

func cause(err error) error {
	c, ok := err.(causer)
	if !ok {
		return nil
	}
	return c.Cause()
}

// Recover captures a panic and stop its propagation. If panic happens it is
// transformed into a ErrPanic instance and assigned to given error. Call
// this function using defer in order to work as expected.
func Recover(err *error) {
	if r := recover(); r != nil {
		*err = Wrapf(ErrPanic, "%v", r)
	}
}

// causer is an interface implemented by an error that supports wrapping.
// Use it to test if an error wraps another error instance.
type causer interface {
	Cause() error
}
