package dispatch

import "github.com/protoproxy/dispatch/pkg/frame"

// Metrics is the narrow seam the Handler Pipeline reports through. It is
// defined here, in the dispatch package, rather than importing
// prometheus/client_golang directly — the same indirection the teacher
// uses for its cache metrics (a constructor registered from the concrete
// implementation's package, never imported back into the core package) so
// pkg/dispatch never depends on a specific metrics backend.
type Metrics interface {
	HookInvoked(namespace string, op frame.Opcode)
	FrameSuppressed(op frame.Opcode)
	FrameReserialized(op frame.Opcode)
	ParseCacheHit(op frame.Opcode)
	ParseCacheMiss(op frame.Opcode)
}

type noopMetrics struct{}

func (noopMetrics) HookInvoked(string, frame.Opcode)    {}
func (noopMetrics) FrameSuppressed(frame.Opcode)        {}
func (noopMetrics) FrameReserialized(frame.Opcode)      {}
func (noopMetrics) ParseCacheHit(frame.Opcode)          {}
func (noopMetrics) ParseCacheMiss(frame.Opcode)         {}
