// Package syserr defines the status taxonomy shared by every portos
// package.
//
// Native failures are translated at the call site into either one of the
// sentinel *Error values below or an *OSError carrying the native errno.
// Nothing in portos retries on the caller's behalf; see StatusOf for
// classifying an error into a Code.
package syserr

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

// Code is a status code in the portos taxonomy.
type Code int

// Status codes.
const (
	Success Code = iota
	Incomplete
	Busy
	TimedOut
	EndOfStream
	NotImplemented
	BadPath
	PathWild
	NameTooLong
	InvalidArgument
	NoPool
	NoDir
	OS
)

var codeNames = [...]string{
	Success:         "success",
	Incomplete:      "incomplete",
	Busy:            "busy",
	TimedOut:        "timed out",
	EndOfStream:     "end of stream",
	NotImplemented:  "not implemented",
	BadPath:         "bad path",
	PathWild:        "path is wild",
	NameTooLong:     "name too long",
	InvalidArgument: "invalid argument",
	NoPool:          "no pool",
	NoDir:           "no directory",
	OS:              "os error",
}

// String implements fmt.Stringer.
func (c Code) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is a sentinel status.
type Error struct {
	code Code
	msg  string
}

// New returns a new sentinel with the given code.
func New(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// Error implements error.Error.
func (e *Error) Error() string {
	return e.msg
}

// Code returns the status code.
func (e *Error) Code() Code {
	return e.code
}

// Is lets sentinels match the standard library errors with the same
// meaning, so callers using io.EOF or os.ErrDeadlineExceeded keep working.
func (e *Error) Is(target error) bool {
	switch e.code {
	case EndOfStream:
		return target == io.EOF
	case TimedOut:
		return target == os.ErrDeadlineExceeded
	case NotImplemented:
		return target == errors.ErrUnsupported
	}
	return false
}

// Sentinel statuses.
var (
	ErrIncomplete      = New(Incomplete, "incomplete: not every requested field could be resolved")
	ErrBusy            = New(Busy, "resource busy")
	ErrTimedOut        = New(TimedOut, "timed out")
	ErrEndOfStream     = New(EndOfStream, "end of stream")
	ErrNotImplemented  = New(NotImplemented, "not implemented on this platform")
	ErrBadPath         = New(BadPath, "bad path")
	ErrPathWild        = New(PathWild, "path contains wildcard characters")
	ErrNameTooLong     = New(NameTooLong, "name too long")
	ErrInvalidArgument = New(InvalidArgument, "invalid argument")
	ErrNoPool          = New(NoPool, "no pool")
	ErrNoDir           = New(NoDir, "no directory")
)

// OSError wraps a native error code.
type OSError struct {
	Op    string
	Path  string
	Errno syscall.Errno
}

// Error implements error.Error.
func (e *OSError) Error() string {
	if e.Path == "" {
		return e.Op + ": " + e.Errno.Error()
	}
	return e.Op + " " + e.Path + ": " + e.Errno.Error()
}

// Unwrap returns the native errno.
func (e *OSError) Unwrap() error {
	return e.Errno
}

// FromOS translates err, returned by a native call named op on path, into
// the taxonomy. A nil err yields nil. Errors that already belong to the
// taxonomy are returned unchanged.
func FromOS(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	var oe *OSError
	if errors.As(err, &oe) {
		return err
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return err
	}
	if errno == syscall.ENAMETOOLONG {
		return ErrNameTooLong
	}
	return &OSError{Op: op, Path: path, Errno: errno}
}

// Errno returns the native errno carried by err, if any.
func Errno(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}

// StatusOf classifies err into a Code.
func StatusOf(err error) Code {
	if err == nil {
		return Success
	}
	var se *Error
	if errors.As(err, &se) {
		return se.code
	}
	if errors.Is(err, io.EOF) {
		return EndOfStream
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return TimedOut
	}
	return OS
}
