package vm

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// ErrorKind classifies every failure the interpreter can report.
type ErrorKind uint8

const (
	KindInternal         ErrorKind = iota // unexpected failure inside the VM
	KindMalformedProgram                  // bad header, truncated operands, imbalanced try, leftover stack
	KindStackUnderflow
	KindArity             // wrong argument count, including more than MaxFunctionArgs
	KindUnknownGlobal     // GET_GLOBAL found nothing
	KindUnknownChunk      // import or call into a missing chunk
	KindUnsupportedCall   // CALL_GLOBAL/CALL_LOCAL found nothing to call
	KindInvalidThrow      // THROW of a non-error value
	KindUncaught          // THROW with no try frame
	KindRuntimeExceeded   // time budget exhausted
	KindMemoryExceeded    // memory ceiling exceeded
	KindAsyncUnsupported  // call of an async callable
	KindCallStackOverflow // call depth above CallStackLimit
	KindIndexZero         // arrays are 1-based
	KindTypeError         // operands of the wrong type
	KindDivisionByZero
	KindHostFunction // a host or stdlib function returned an error
)

var errorKindNames = [...]string{
	KindInternal:          "Internal",
	KindMalformedProgram:  "MalformedProgram",
	KindStackUnderflow:    "StackUnderflow",
	KindArity:             "ArityError",
	KindUnknownGlobal:     "UnknownGlobal",
	KindUnknownChunk:      "UnknownChunk",
	KindUnsupportedCall:   "UnsupportedCall",
	KindInvalidThrow:      "InvalidThrow",
	KindUncaught:          "Uncaught",
	KindRuntimeExceeded:   "RuntimeExceeded",
	KindMemoryExceeded:    "MemoryExceeded",
	KindAsyncUnsupported:  "AsyncUnsupported",
	KindCallStackOverflow: "CallStackOverflow",
	KindIndexZero:         "IndexZero",
	KindTypeError:         "TypeError",
	KindDivisionByZero:    "DivisionByZero",
	KindHostFunction:      "HostFunctionError",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// ParseErrorKind maps a kind name back to its ErrorKind.
func ParseErrorKind(name string) (ErrorKind, bool) {
	for i, n := range errorKindNames {
		if n == name {
			return ErrorKind(i), true
		}
	}
	return 0, false
}

// classified is implemented by every error type of this package.
type classified interface {
	error
	ErrorKind() ErrorKind
}

// KindOf returns the classification of err. Errors that did not come from
// the interpreter are KindInternal.
func KindOf(err error) ErrorKind {
	var c classified
	if errors.As(err, &c) {
		return c.ErrorKind()
	}
	return KindInternal
}

// ---------------------------------------------------------------------------
// Error types
// ---------------------------------------------------------------------------

// VMError is a classified failure with a message.
type VMError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *VMError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *VMError) Unwrap() error         { return e.Err }
func (e *VMError) ErrorKind() ErrorKind { return e.Kind }

func vmErrorf(kind ErrorKind, format string, args ...any) *VMError {
	return &VMError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func typeErrorf(format string, args ...any) *VMError {
	return vmErrorf(KindTypeError, format, args...)
}

func malformedf(format string, args ...any) *VMError {
	return vmErrorf(KindMalformedProgram, format, args...)
}

// ArityError reports a call with the wrong number of arguments.
type ArityError struct {
	Name     string
	Expected string
	Got      int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("Function %s called with %d arguments, expected %s", e.Name, e.Got, e.Expected)
}

func (e *ArityError) ErrorKind() ErrorKind { return KindArity }

// UnknownGlobalError reports a GET_GLOBAL chain that resolved to nothing.
type UnknownGlobalError struct {
	Name string
}

func (e *UnknownGlobalError) Error() string {
	return fmt.Sprintf("Global variable not found: %s", e.Name)
}

func (e *UnknownGlobalError) ErrorKind() ErrorKind { return KindUnknownGlobal }

// UncaughtError is a thrown error value that no try frame caught.
type UncaughtError struct {
	Type    string
	Message Value
	Payload Value
}

func (e *UncaughtError) Error() string {
	msg, ok := e.Message.(String)
	if !ok {
		msg = String(ToString(e.Message))
	}
	return fmt.Sprintf("%s(%s)", e.Type, quoteString(string(msg)))
}

func (e *UncaughtError) ErrorKind() ErrorKind { return KindUncaught }

// RuntimeExceededError reports an exhausted time budget. Cause is set when
// the execution context was cancelled.
type RuntimeExceededError struct {
	Timeout time.Duration
	Elapsed time.Duration
	Ops     int
	Cause   error
}

func (e *RuntimeExceededError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("Execution cancelled after %s and %s ops: %v",
			e.Elapsed.Round(time.Millisecond), humanize.Comma(int64(e.Ops)), e.Cause)
	}
	return fmt.Sprintf("Execution timed out after %.3f seconds. Performed %s ops.",
		e.Timeout.Seconds(), humanize.Comma(int64(e.Ops)))
}

func (e *RuntimeExceededError) Unwrap() error        { return e.Cause }
func (e *RuntimeExceededError) ErrorKind() ErrorKind { return KindRuntimeExceeded }

// MemoryExceededError reports an allocation that crossed the memory ceiling.
type MemoryExceededError struct {
	Limit     int
	Attempted int
}

func (e *MemoryExceededError) Error() string {
	return fmt.Sprintf("Memory limit of %s exceeded. Tried to allocate %s.",
		humanize.IBytes(uint64(e.Limit)), humanize.IBytes(uint64(e.Attempted)))
}

func (e *MemoryExceededError) ErrorKind() ErrorKind { return KindMemoryExceeded }
