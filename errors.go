package sonicore

import "fmt"

// ErrorKind enumerates the error taxonomy from spec §7. It is not itself
// the error type returned to callers — it is wrapped into a *Error via
// %w so callers can distinguish kinds with errors.Is/errors.As, the
// generalization of the teacher's ErrorHandler/DefaultErrorHandler
// pattern (errors.go in the teacher) into a typed sentinel, since
// response encoders need to report a kind, not just a message string.
type ErrorKind int

const (
	InvalidArgument ErrorKind = iota
	InvalidNodeId
	DuplicateNodeId
	InvalidBusId
	UnknownPlugin
	PluginRegistrationFailed
	AllocationFailed
	QueueFull
	FileError
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case InvalidNodeId:
		return "InvalidNodeId"
	case DuplicateNodeId:
		return "DuplicateNodeId"
	case InvalidBusId:
		return "InvalidBusId"
	case UnknownPlugin:
		return "UnknownPlugin"
	case PluginRegistrationFailed:
		return "PluginRegistrationFailed"
	case AllocationFailed:
		return "AllocationFailed"
	case QueueFull:
		return "QueueFull"
	case FileError:
		return "FileError"
	default:
		return "Unknown"
	}
}

// Error pairs an ErrorKind with a human-readable message and an optional
// wrapped cause, the value form that travels in dispatcher.Response.Err
// and is asserted against with errors.As in tests and response encoders.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, letting
// callers write errors.Is(err, sonicore.KindError(InvalidNodeId)).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// KindError builds a bare *Error carrying only a kind, suitable as the
// target of errors.Is(err, sonicore.KindError(k)).
func KindError(k ErrorKind) *Error { return &Error{Kind: k} }

// wrapErr builds an *Error of kind k wrapping cause, with message msg.
func wrapErr(k ErrorKind, msg string, cause error) error {
	return &Error{Kind: k, Message: msg, Cause: cause}
}
