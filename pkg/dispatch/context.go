package dispatch

import (
	"github.com/protoproxy/dispatch/pkg/codec"
	"github.com/protoproxy/dispatch/pkg/frame"
)

// HookContext is handed to a Callback for one hook's evaluation against
// one frame. Frame() and Event() reflect the state as of this specific
// callback invocation: earlier hooks in the same pass may already have
// mutated the payload, flags, or parsed event this callback observes.
type HookContext struct {
	hook       *Hook
	opcode     frame.Opcode
	message    string
	flags      frame.Flags
	payload    []byte
	event      codec.Value
	defVersion codec.DefVersion
}

// Opcode is the current frame's opcode.
func (c *HookContext) Opcode() frame.Opcode { return c.opcode }

// Message is the message name resolved for Opcode, or "" if unmapped.
func (c *HookContext) Message() string { return c.message }

// Namespace is the owning module namespace of the hook being invoked.
func (c *HookContext) Namespace() string { return c.hook.Namespace }

// Order is the hook's registration order.
func (c *HookContext) Order() int { return c.hook.Order }

// Flags is a snapshot of the frame flags as of this callback invocation.
func (c *HookContext) Flags() frame.Flags { return c.flags }

// Frame returns the frame's current payload bytes (header excluded). Raw
// hooks (Version == RawVersion()) are expected to read and, via
// ReplaceBytes, replace this directly; structured hooks should prefer
// Event().
func (c *HookContext) Frame() []byte { return c.payload }

// Event returns the parsed structured value for this invocation, or nil
// for a raw-defVersion hook. Mutating the returned Value and returning
// Commit() tells the pipeline to re-serialize it.
func (c *HookContext) Event() codec.Value { return c.event }

// DefVersion is the definition version this callback's Event (if any) was
// parsed at.
func (c *HookContext) DefVersion() codec.DefVersion { return c.defVersion }
