package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// These keys are designed to be protocol-agnostic, usable by any message
// dispatch path regardless of which game protocol is active.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Protocol & Dispatch
	// ========================================================================
	KeyProtocolVersion = "protocol_version" // Negotiated protocol version
	KeyRegion          = "region"           // Region tag parsed from the revision string
	KeyOpcode          = "opcode"           // Numeric opcode of the current frame
	KeyMessage         = "message"          // Message name resolved from the opcode
	KeyDefVersion      = "def_version"      // Definition version used to parse/write
	KeyNamespace       = "namespace"        // Owning module namespace of a hook
	KeyOrder           = "order"            // Hook registration order
	KeyHookCount       = "hook_count"       // Number of hooks matched for a frame

	// ========================================================================
	// Frame Flags
	// ========================================================================
	KeyFake      = "fake"      // Frame originated from write(), not the wire
	KeyIncoming  = "incoming"  // Frame direction: server -> client
	KeyModified  = "modified"  // Frame payload has been mutated this invocation
	KeySilenced  = "silenced"  // Frame has been marked for suppression
	KeyFrameHex  = "frame_hex" // Hex dump of the current frame bytes
	KeyFrameSize = "frame_size"

	// ========================================================================
	// Module Lifecycle
	// ========================================================================
	KeyModule = "module" // Module name

	// ========================================================================
	// Request Context (LogContext fields added by the *Ctx functions)
	// ========================================================================
	KeyProcedure = "procedure" // LogContext.Procedure
	KeyShare     = "share"     // LogContext.Share
	KeyClientIP  = "client_ip" // Client IP address
	KeyUID       = "uid"       // Effective user ID
	KeyGID       = "gid"       // Effective group ID

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorKind  = "error_kind"  // dispatch.ErrorKind string
	KeySource     = "source"      // Logical source of the log line
)

// ----------------------------------------------------------------------------
// Distributed Tracing
// ----------------------------------------------------------------------------

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ----------------------------------------------------------------------------
// Protocol & Dispatch
// ----------------------------------------------------------------------------

// ProtocolVersion returns a slog.Attr for the negotiated protocol version.
func ProtocolVersion(v int) slog.Attr {
	return slog.Int(KeyProtocolVersion, v)
}

// Region returns a slog.Attr for the region tag.
func Region(region string) slog.Attr {
	return slog.String(KeyRegion, region)
}

// Opcode returns a slog.Attr for a numeric opcode.
func Opcode(op uint16) slog.Attr {
	return slog.Uint64(KeyOpcode, uint64(op))
}

// Message returns a slog.Attr for a resolved message name.
func Message(name string) slog.Attr {
	return slog.String(KeyMessage, name)
}

// DefVersion returns a slog.Attr for a definition version descriptor.
func DefVersion(v string) slog.Attr {
	return slog.String(KeyDefVersion, v)
}

// Namespace returns a slog.Attr for a hook's owning module namespace.
func Namespace(ns string) slog.Attr {
	return slog.String(KeyNamespace, ns)
}

// Order returns a slog.Attr for a hook group's order.
func Order(order int) slog.Attr {
	return slog.Int(KeyOrder, order)
}

// HookCount returns a slog.Attr for the number of hooks matched.
func HookCount(n int) slog.Attr {
	return slog.Int(KeyHookCount, n)
}

// ----------------------------------------------------------------------------
// Frame Flags
// ----------------------------------------------------------------------------

// Fake returns a slog.Attr for the fake frame flag.
func Fake(v bool) slog.Attr {
	return slog.Bool(KeyFake, v)
}

// Incoming returns a slog.Attr for the incoming frame flag.
func Incoming(v bool) slog.Attr {
	return slog.Bool(KeyIncoming, v)
}

// Modified returns a slog.Attr for the modified frame flag.
func Modified(v bool) slog.Attr {
	return slog.Bool(KeyModified, v)
}

// Silenced returns a slog.Attr for the silenced frame flag.
func Silenced(v bool) slog.Attr {
	return slog.Bool(KeySilenced, v)
}

// FrameHex returns a slog.Attr with a hex dump of frame bytes.
func FrameHex(b []byte) slog.Attr {
	return slog.String(KeyFrameHex, fmt.Sprintf("% x", b))
}

// FrameSize returns a slog.Attr for the byte length of a frame.
func FrameSize(n int) slog.Attr {
	return slog.Int(KeyFrameSize, n)
}

// ----------------------------------------------------------------------------
// Module Lifecycle
// ----------------------------------------------------------------------------

// Module returns a slog.Attr for a module name.
func Module(name string) slog.Attr {
	return slog.String(KeyModule, name)
}

// ----------------------------------------------------------------------------
// Operation Metadata
// ----------------------------------------------------------------------------

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorKind returns a slog.Attr for a dispatch error kind.
func ErrorKind(kind string) slog.Attr {
	return slog.String(KeyErrorKind, kind)
}

// Source returns a slog.Attr for the logical source of a log line.
func Source(src string) slog.Attr {
	return slog.String(KeySource, src)
}
