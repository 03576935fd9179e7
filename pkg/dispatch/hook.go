package dispatch

import (
	"fmt"
	"strconv"
	"time"

	"github.com/protoproxy/dispatch/pkg/codec"
	"github.com/protoproxy/dispatch/pkg/frame"
)

// TriState is a three-valued match predicate used by Filter: Any matches
// regardless of the live flag's value, True/False require an exact match.
type TriState int

const (
	Any TriState = iota
	True
	False
)

// Match reports whether v satisfies this TriState.
func (t TriState) Match(v bool) bool {
	switch t {
	case True:
		return v
	case False:
		return !v
	default:
		return true
	}
}

// String renders a TriState as "any", "true", or "false".
func (t TriState) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "any"
	}
}

// Filter is the tri-state predicate a Hook is evaluated against on every
// candidate frame, re-checked live (against the flags as mutated by
// earlier hooks in this invocation, not a snapshot taken at match time).
type Filter struct {
	Fake     TriState
	Incoming TriState
	Modified TriState
	Silenced TriState
}

// Match reports whether fl satisfies every field of f.
func (f Filter) Match(fl frame.Flags) bool {
	return f.Fake.Match(fl.Fake) &&
		f.Incoming.Match(fl.Incoming) &&
		f.Modified.Match(fl.Modified) &&
		f.Silenced.Match(fl.Silenced)
}

// VersionKind distinguishes the three forms a Hook's requested definition
// version can take (spec.md §3): a specific positive version, "*" for
// whatever the Codec Registry currently considers latest, or "raw" to
// skip parsing and receive the wire bytes directly.
type VersionKind int

const (
	VersionNumber VersionKind = iota
	VersionAny
	VersionRaw
)

// HookVersion is a Hook's requested definition version.
type HookVersion struct {
	Kind  VersionKind
	Value codec.DefVersion // meaningful only when Kind == VersionNumber
}

// NumberVersion returns a HookVersion pinned to a specific definition version.
func NumberVersion(v codec.DefVersion) HookVersion {
	return HookVersion{Kind: VersionNumber, Value: v}
}

// AnyVersion returns the "*" HookVersion.
func AnyVersion() HookVersion { return HookVersion{Kind: VersionAny} }

// RawVersion returns the "raw" HookVersion.
func RawVersion() HookVersion { return HookVersion{Kind: VersionRaw} }

// ParseHookVersion parses the string grammar a Hook registration accepts:
// a positive decimal integer, "*", or "raw".
func ParseHookVersion(s string) (HookVersion, error) {
	switch s {
	case "*":
		return AnyVersion(), nil
	case "raw":
		return RawVersion(), nil
	default:
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return HookVersion{}, newError(InvalidArgument, fmt.Sprintf("invalid defVersion %q: must be a positive integer, \"*\", or \"raw\"", s), nil)
		}
		return NumberVersion(codec.DefVersion(n)), nil
	}
}

// String renders the HookVersion the way it was written in ParseHookVersion.
func (v HookVersion) String() string {
	switch v.Kind {
	case VersionAny:
		return "*"
	case VersionRaw:
		return "raw"
	default:
		return strconv.Itoa(int(v.Value))
	}
}

// Callback is a hook's handler. For raw-defVersion hooks, ctx.Event()
// returns nil and the callback must inspect/replace ctx.Frame() bytes
// directly; for structured hooks, ctx.Event() returns the parsed value
// and a returned Commit() outcome tells the pipeline to re-serialize it.
type Callback func(ctx *HookContext) Outcome

// Hook is one registered interception point (spec.md §3).
type Hook struct {
	ID   string
	Name string // message name this hook was registered against; "" for Wildcard
	Namespace string
	Opcode    frame.Opcode
	Filter    Filter
	Order     int
	Version   HookVersion
	Callback  Callback

	// Timeout, when non-zero, arms a one-shot timer at registration: if
	// the hook is still registered when the timer fires, Register
	// unregisters it and invokes Callback once with a nil HookContext so
	// the module can run cleanup logic without a matching frame ever
	// arriving.
	Timeout time.Duration
}

// Outcome is what a Callback returns to tell the Handler Pipeline what, if
// anything, changed. The zero value means "no change, not silenced" —
// equivalent to returning undefined in the callback-return-value scheme
// spec.md describes.
type Outcome struct {
	replacedBytes bool
	bytes         []byte
	silence       *bool
	commit        bool
}

// Unchanged signals that the callback observed the frame without
// requesting any change.
func Unchanged() Outcome { return Outcome{} }

// ReplaceBytes replaces the frame's payload wholesale. Only meaningful
// for raw-defVersion hooks; structured hooks should mutate the event via
// ctx.Event() and return Commit() instead.
func ReplaceBytes(b []byte) Outcome { return Outcome{replacedBytes: true, bytes: b} }

// Commit tells the pipeline to re-serialize the (possibly mutated)
// structured event returned by ctx.Event() back into the frame's payload.
func Commit() Outcome { return Outcome{commit: true} }

// Suppress marks the frame silenced: later hooks whose Filter accepts
// silenced frames still run and see Silenced=true in their Flags (the
// default Filter.Silenced of False skips them), but the frame is not
// forwarded to its destination once the pipeline finishes.
func Suppress() Outcome {
	s := true
	return Outcome{silence: &s}
}

// Unsilence clears a silence request made by an earlier hook in this
// invocation.
func Unsilence() Outcome {
	s := false
	return Outcome{silence: &s}
}

// WithSuppress returns a copy of o with the silence flag set explicitly,
// for callbacks that want to both replace bytes/commit and silence in one
// Outcome.
func (o Outcome) WithSuppress(v bool) Outcome {
	o.silence = &v
	return o
}
