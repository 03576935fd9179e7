package dispatch

import "fmt"

// ErrorKind enumerates the failure categories the Dispatch Core can
// surface, per spec.md §7. Every error raised by this package is a typed
// *Error rather than a bare fmt.Errorf, so callers can branch on Kind
// without string matching.
type ErrorKind int

const (
	// InvalidArgument covers malformed hook registration arguments: a
	// wildcard opcode combined with a numeric defVersion where that
	// combination is disallowed, a defVersion string that is neither a
	// positive integer, "*", nor "raw", or a nil callback.
	InvalidArgument ErrorKind = iota
	// UnmappedName is raised when a message name has no opcode binding
	// under the currently active protocol version.
	UnmappedName
	// ObsoleteDefinition is raised when a hook requests a defVersion
	// that the Codec Registry no longer considers current for writes,
	// per spec.md's negotiation rules.
	ObsoleteDefinition
	// UnknownDefinition is raised when a hook requests a defVersion the
	// Codec Registry has no schema for at all.
	UnknownDefinition
	// CodecFailure wraps a Parse/Write error from the Codec Registry.
	CodecFailure
	// CallbackFailure wraps a panic or error recovered from a hook
	// callback so one misbehaving hook cannot take down the pipeline.
	CallbackFailure
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case UnmappedName:
		return "unmapped_name"
	case ObsoleteDefinition:
		return "obsolete_definition"
	case UnknownDefinition:
		return "unknown_definition"
	case CodecFailure:
		return "codec_failure"
	case CallbackFailure:
		return "callback_failure"
	default:
		return "unknown"
	}
}

// Error is the Dispatch Core's error type. It mirrors the teacher's
// ErrorCode + wrapped-cause pattern rather than sentinel error values, so
// errors.Is/errors.As work against both Kind and the underlying Cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("dispatch: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("dispatch: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}
