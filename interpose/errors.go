package interpose

import (
	"errors"
	"fmt"
)

// ErrorKind classifies interposing failures.
type ErrorKind int

const (
	KindUnknownError ErrorKind = iota
	KindMethodNotFound
	KindNonExistingImplementation
	KindUnexpectedImplementation
	KindFailedToAllocateClassPair
	KindUnableToAddMethod
	KindKeyValueObservationDetected
	KindObjectPosingAsDifferentClass
	KindInvalidState
	KindResetUnsupported
)

// Sentinel errors, one per kind. Every *Error matches its kind's sentinel
// with errors.Is.
var (
	ErrUnknown                      = errors.New("unknown error")
	ErrMethodNotFound               = errors.New("method not found")
	ErrNonExistingImplementation    = errors.New("implementation not found")
	ErrUnexpectedImplementation     = errors.New("unexpected implementation")
	ErrFailedToAllocateClassPair    = errors.New("failed to allocate class pair")
	ErrUnableToAddMethod            = errors.New("unable to add method")
	ErrKeyValueObservationDetected  = errors.New("object uses key value observation")
	ErrObjectPosingAsDifferentClass = errors.New("object is posing as a different class")
	ErrInvalidState                 = errors.New("invalid state")
	ErrResetUnsupported             = errors.New("reset unsupported")
)

var kindSentinels = map[ErrorKind]error{
	KindUnknownError:                 ErrUnknown,
	KindMethodNotFound:               ErrMethodNotFound,
	KindNonExistingImplementation:    ErrNonExistingImplementation,
	KindUnexpectedImplementation:     ErrUnexpectedImplementation,
	KindFailedToAllocateClassPair:    ErrFailedToAllocateClassPair,
	KindUnableToAddMethod:            ErrUnableToAddMethod,
	KindKeyValueObservationDetected:  ErrKeyValueObservationDetected,
	KindObjectPosingAsDifferentClass: ErrObjectPosingAsDifferentClass,
	KindInvalidState:                 ErrInvalidState,
	KindResetUnsupported:             ErrResetUnsupported,
}

func (k ErrorKind) String() string {
	if s, ok := kindSentinels[k]; ok {
		return s.Error()
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is the error type returned by every hook and interposer operation.
type Error struct {
	Kind     ErrorKind
	Class    string // class the failing operation targeted
	Selector string // empty for object-level failures
	Detail   string
	Err      error // underlying cause, if any
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	switch {
	case e.Class != "" && e.Selector != "":
		msg += ": -[" + e.Class + " " + e.Selector + "]"
	case e.Class != "":
		msg += ": " + e.Class
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnknownError.
func KindOf(err error) ErrorKind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindUnknownError
}

func newError(kind ErrorKind, class, selector, detail string) *Error {
	return &Error{Kind: kind, Class: class, Selector: selector, Detail: detail}
}

func wrapError(kind ErrorKind, class, selector string, cause error) *Error {
	return &Error{Kind: kind, Class: class, Selector: selector, Err: cause}
}
