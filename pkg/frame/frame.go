// Package frame defines the wire-level shape of a dispatched message: a
// length-prefixed byte buffer with a little-endian opcode at a fixed offset,
// and the per-invocation flags the Handler Pipeline attaches to it.
package frame

import "encoding/binary"

// Opcode identifies a message under the currently active protocol version.
type Opcode uint16

// Wildcard matches every opcode. A hook registered against Wildcard is
// merged into the dispatch order of every concrete opcode (see
// pkg/dispatch's Hook Registry).
const Wildcard Opcode = 0xFFFF

// HeaderSize is the number of bytes preceding the payload: a 4-byte
// little-endian length prefix followed by a 2-byte little-endian opcode.
const HeaderSize = 6

// OpcodeOffset is the byte offset of the opcode within a frame.
const OpcodeOffset = 2

// ReadOpcode extracts the opcode from a frame's header. It does not
// validate the length prefix; callers that receive bytes from the wire
// are expected to have already framed them correctly (framing is out of
// scope for this package, see spec.md §1).
func ReadOpcode(b []byte) Opcode {
	if len(b) < OpcodeOffset+2 {
		return 0
	}
	return Opcode(binary.LittleEndian.Uint16(b[OpcodeOffset : OpcodeOffset+2]))
}

// ReadLength extracts the little-endian length prefix from a frame's header.
func ReadLength(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b[0:4])
}

// PutHeader writes the length prefix and opcode into the first HeaderSize
// bytes of b. b must be at least HeaderSize bytes long.
func PutHeader(b []byte, op Opcode) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(len(b)))
	binary.LittleEndian.PutUint16(b[OpcodeOffset:OpcodeOffset+2], uint16(op))
}

// Flags are the per-invocation state the Handler Pipeline snapshots into
// every hook callback (spec.md §3, "Frame Flags"). They are immutable once
// handed to a callback: a callback that wants to see a later flag state
// observes it through its own return value, not by mutating Flags.
type Flags struct {
	// Fake is true when the frame was synthesized via Dispatch.Write rather
	// than received from the wire.
	Fake bool
	// Incoming is true for server-to-client frames.
	Incoming bool
	// Modified reports whether earlier hooks in this invocation changed
	// the payload. The Handler Pipeline sets it on a committed structured
	// event and recomputes it after every raw hook, so a later hook can
	// clear it again.
	Modified bool
	// Silenced reflects the latest suppression request from an earlier
	// hook in this invocation: Suppress sets it and Unsilence clears it.
	Silenced bool
}
