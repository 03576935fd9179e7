package codec

import (
	"fmt"
)

// DefVersion identifies which shape of a message's schema to use. Callers
// select it as a positive integer, the string "*" (latest known at parse
// time), or the string "raw" (skip parsing entirely, see pkg/dispatch).
//
// The Codec Registry contract (spec.md §6) only ever receives resolved
// integer versions through Parse/Write; "*"/"raw" resolution happens in
// the Handler Pipeline before it calls into the registry.
type DefVersion int

// ProtoVersion identifies one protocol revision's name<->opcode mapping.
// Two protocol versions can bind the same message name to different
// opcodes; a message's field schema (DefVersion) is versioned
// independently of its opcode and is shared across every ProtoVersion
// that mentions the name.
type ProtoVersion int

// FieldKind enumerates the primitive wire shapes a FieldSpec can describe.
// This mirrors the small set of scalar encodings real protocol bundles
// actually need; structured nesting is expressed by chaining FieldSpecs,
// not by adding more kinds.
type FieldKind int

const (
	FieldUint8 FieldKind = iota
	FieldUint16
	FieldUint32
	FieldUint64
	FieldInt8
	FieldInt16
	FieldInt32
	FieldInt64
	FieldString  // length-prefixed (uint16 length) UTF-8 string
	FieldBytes   // length-prefixed (uint16 length) raw bytes
	FieldFloat32
	FieldFloat64
)

// FieldSpec describes one field of a message's wire layout, in declaration
// order. Name must be unique within a Schema.
type FieldSpec struct {
	Name string    `mapstructure:"name" validate:"required"`
	Kind FieldKind `mapstructure:"kind" validate:"required"`
}

// Schema is one definition version's field layout for one message.
type Schema struct {
	Name      string
	Opcode    uint16
	DefVer    DefVersion
	Fields    []FieldSpec
}

// Registry is the Codec Registry external-interface contract from
// spec.md §6. The Handler Pipeline depends only on this interface, never
// on a concrete implementation, so test code can substitute a fake without
// touching pkg/dispatch.
type Registry interface {
	// ResolveOpcode returns the message name bound to an opcode under pv,
	// or ok=false if unmapped under that protocol version.
	ResolveOpcode(pv ProtoVersion, op uint16) (name string, ok bool)

	// ResolveName returns the opcode bound to a message name under pv, or
	// ok=false if unmapped under that protocol version.
	ResolveName(pv ProtoVersion, name string) (op uint16, ok bool)

	// LatestDefVersion returns the newest definition version known for a
	// message name, or ok=false if the name is unmapped. Schemas are not
	// scoped by ProtoVersion: a message's field layout is shared by every
	// protocol version that maps a name to it.
	LatestDefVersion(name string) (v DefVersion, ok bool)

	// HasSchema reports whether a specific definition version exists for
	// a message name.
	HasSchema(name string, v DefVersion) bool

	// Parse decodes a payload (the frame bytes following the header) into
	// a Value using the schema for name at definition version v. It
	// returns ErrUnknownDefinition if no such schema is registered and
	// ErrCodecFailure if decoding fails against the bytes given.
	Parse(name string, v DefVersion, payload []byte) (Value, error)

	// Write encodes a Value back into payload bytes using the schema for
	// name at definition version v.
	Write(name string, v DefVersion, val Value) ([]byte, error)

	// Revision returns the bundle's revision string for pv, or ok=false
	// if no bundle declared that protocol version.
	Revision(pv ProtoVersion) (revision string, ok bool)

	// FirstProtoVersion returns the lowest ProtoVersion known to the
	// registry, used to parse the unauthenticated C_CHECK_VERSION
	// handshake before any protocol version has been negotiated.
	FirstProtoVersion() (pv ProtoVersion, ok bool)
}

// ErrKind enumerates the codec package's own error conditions; dispatch
// wraps these into its own ErrorKind taxonomy (spec.md §7) at the
// boundary rather than exposing codec errors directly.
type ErrKind int

const (
	ErrInvalidBundle ErrKind = iota
	ErrUnknownDefinition
	ErrCodecFailure
)

// Error is the codec package's error type.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}
