package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/protoproxy/dispatch/internal/diagnostics"
	"github.com/protoproxy/dispatch/internal/logger"
	"github.com/protoproxy/dispatch/pkg/codec"
	"github.com/protoproxy/dispatch/pkg/frame"
)

// CheckVersionOpcode is C_CHECK_VERSION: the client's protocol-handshake
// message. The Handler Pipeline snoops its payload for a revision string
// before protocol negotiation completes, so modules that need to react to
// the negotiated version don't have to special-case the handshake
// themselves (spec.md §4.2).
const CheckVersionOpcode frame.Opcode = 19900

// VersionSnoopFunc is invoked with a C_CHECK_VERSION frame's payload
// before hooks run against it, letting the Dispatch Facade update its
// negotiated protocol version ahead of any hook observing this frame.
type VersionSnoopFunc func(payload []byte)

// Pipeline is the Handler Pipeline component (spec.md §4.2): it resolves
// the hooks matching a frame, evaluates each one's filter against live
// state, parses/clones/re-serializes structured payloads as needed, and
// reassembles the outgoing frame.
type Pipeline struct {
	Hooks    *HookRegistry
	Registry codec.Registry

	// ProtoVersion is the currently negotiated protocol version, used to
	// resolve opcode<->name bindings. Dispatch.SetProtocolVersion keeps
	// this in sync with HookRegistry's own copy.
	ProtoVersion codec.ProtoVersion

	VersionSnoop VersionSnoopFunc

	Metrics Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

// NewPipeline returns a Pipeline with no-op metrics and tracing and the
// logger package's default logger until the caller wires others
// (WithMetrics, WithTracer, WithLogger).
func NewPipeline(hooks *HookRegistry, registry codec.Registry) *Pipeline {
	return &Pipeline{
		Hooks:    hooks,
		Registry: registry,
		Metrics:  noopMetrics{},
		Tracer:   trace.NewNoopTracerProvider().Tracer("dispatch"),
		Logger:   logger.With(),
	}
}

// WithMetrics sets the Metrics sink; passing nil restores the no-op sink.
func (p *Pipeline) WithMetrics(m Metrics) *Pipeline {
	if m == nil {
		m = noopMetrics{}
	}
	p.Metrics = m
	return p
}

// WithTracer sets the OpenTelemetry tracer used to wrap each invocation.
func (p *Pipeline) WithTracer(t trace.Tracer) *Pipeline {
	p.Tracer = t
	return p
}

// WithLogger sets the structured logger used for pipeline diagnostics.
func (p *Pipeline) WithLogger(l *slog.Logger) *Pipeline {
	p.Logger = l
	return p
}

// Handle runs a single frame through the Handler Pipeline and returns the
// (possibly mutated) outgoing frame and whether it ended up silenced. A
// hook that fails to resolve its version, fails to parse/write its
// payload, or panics is logged and skipped: the frame is still forwarded
// using whatever bytes the pipeline has accumulated so far, so one
// misbehaving module can never take the whole relay down. The error
// return is kept for callers that want to distinguish "nothing matched"
// paths in the future; Handle itself never returns a non-nil error today.
//
// raw must be a complete wire frame (header + payload, see pkg/frame).
// incoming is true for server-to-client frames; fake is true when raw was
// synthesized by Dispatch.Write rather than received off the wire.
func (p *Pipeline) Handle(ctx context.Context, raw []byte, incoming, fake bool) (out []byte, silenced bool, err error) {
	op := frame.ReadOpcode(raw)

	ctx, span := p.Tracer.Start(ctx, "dispatch.handle", trace.WithAttributes(
		attribute.Int64("dispatch.opcode", int64(op)),
		attribute.Bool("dispatch.incoming", incoming),
		attribute.Bool("dispatch.fake", fake),
	))
	defer span.End()

	if op == CheckVersionOpcode && p.VersionSnoop != nil && len(raw) >= int(frame.HeaderSize) {
		p.VersionSnoop(raw[frame.HeaderSize:])
	}

	name, nameOK := p.Registry.ResolveOpcode(p.ProtoVersion, uint16(op))
	if nameOK {
		span.SetAttributes(attribute.String("dispatch.message", name))
	}

	matched := p.Hooks.IterateForCode(op)
	if len(matched) == 0 {
		return raw, false, nil
	}

	originalPayload := append([]byte(nil), raw[frame.HeaderSize:]...)
	currentPayload := append([]byte(nil), originalPayload...)
	previousPayload := append([]byte(nil), originalPayload...)

	flags := frame.Flags{Fake: fake, Incoming: incoming}

	resolved, lastConsumer := p.planCache(matched, name, nameOK)
	eventCache := make(map[codec.DefVersion]codec.Value, len(resolved))

	for i, h := range matched {
		if !h.Filter.Match(flags) {
			continue
		}

		p.Metrics.HookInvoked(h.Namespace, op)

		var (
			event      codec.Value
			defVersion codec.DefVersion
			structured = h.Version.Kind != VersionRaw
		)

		if structured {
			var rErr error
			defVersion, rErr = p.resolveVersion(h, name, nameOK, resolved)
			if rErr != nil {
				span.RecordError(rErr)
				p.Logger.Error("skipping hook: version resolution failed",
					logger.Namespace(h.Namespace), logger.Opcode(uint16(op)), logger.Message(name), logger.Err(rErr))
				continue
			}

			cached, ok := eventCache[defVersion]
			if !ok {
				p.Metrics.ParseCacheMiss(op)
				parsed, perr := p.Registry.Parse(name, defVersion, currentPayload)
				if perr != nil {
					wrapped := newError(CodecFailure, fmt.Sprintf("parsing %s v%d", name, defVersion), perr)
					span.RecordError(wrapped)
					p.Logger.Error("skipping hook: parse failed",
						logger.Namespace(h.Namespace), logger.Opcode(uint16(op)), logger.Message(name), logger.Err(wrapped))
					continue
				}
				eventCache[defVersion] = parsed
				cached = parsed
			} else {
				p.Metrics.ParseCacheHit(op)
			}

			if lastConsumer[defVersion] == i {
				event = cached
			} else {
				event = cached.Clone()
			}
		}

		hctx := &HookContext{
			hook:       h,
			opcode:     op,
			message:    name,
			flags:      flags,
			payload:    currentPayload,
			event:      event,
			defVersion: defVersion,
		}

		outcome, cbErr := p.invoke(h, hctx)
		if cbErr != nil {
			wrapped := newError(CallbackFailure, fmt.Sprintf("hook %s (namespace %q) on opcode %d", h.ID, h.Namespace, op), cbErr)
			span.RecordError(wrapped)
			p.Logger.Error("hook callback failed, forwarding frame unchanged by this hook",
				logger.Namespace(h.Namespace), logger.Opcode(uint16(op)), logger.Message(name),
				logger.Err(wrapped), logger.FrameHex(currentPayload))
			continue
		}

		if outcome.silence != nil {
			flags.Silenced = *outcome.silence
		}

		switch {
		case structured && outcome.commit:
			written, werr := p.Registry.Write(name, defVersion, event)
			if werr != nil {
				wrapped := newError(CodecFailure, fmt.Sprintf("writing %s v%d", name, defVersion), werr)
				span.RecordError(wrapped)
				p.Logger.Error("skipping commit: write failed, forwarding previous bytes",
					logger.Namespace(h.Namespace), logger.Opcode(uint16(op)), logger.Message(name), logger.Err(wrapped))
				continue
			}
			currentPayload = written
			flags.Modified = true
			p.Metrics.FrameReserialized(op)

		case !structured && outcome.replacedBytes:
			flags.Modified = !bytes.Equal(outcome.bytes, previousPayload)
			currentPayload = outcome.bytes

		case !structured:
			// No replacement offered: recompute modified against the
			// very first bytes of this invocation, not just the
			// previous hook's output. This asymmetry is an inherited
			// quirk (see spec.md §9's open question) kept intentionally
			// rather than "fixed" to a single consistent rule.
			flags.Modified = !bytes.Equal(currentPayload, originalPayload)
		}

		previousPayload = append(previousPayload[:0], currentPayload...)
	}

	if flags.Silenced {
		p.Metrics.FrameSuppressed(op)
	}

	out = make([]byte, frame.HeaderSize+len(currentPayload))
	copy(out[frame.HeaderSize:], currentPayload)
	frame.PutHeader(out, op)

	return out, flags.Silenced, nil
}

// planCache precomputes, for every matched hook that will consume a
// structured definition version, the index of the last hook in iteration
// order that could possibly read that defVersion's cached parse. "Could
// possibly" means last in iteration order, not last to actually run:
// filter evaluation depends on live state no earlier hook has finished
// mutating yet, so which hooks will actually fire can't be known ahead of
// time (spec.md §4.2 step 6b).
func (p *Pipeline) planCache(matched []*Hook, name string, nameOK bool) (resolved map[*Hook]codec.DefVersion, lastConsumer map[codec.DefVersion]int) {
	resolved = make(map[*Hook]codec.DefVersion, len(matched))
	lastConsumer = make(map[codec.DefVersion]int, len(matched))

	for i, h := range matched {
		if h.Version.Kind == VersionRaw {
			continue
		}
		var v codec.DefVersion
		switch h.Version.Kind {
		case VersionAny:
			if !nameOK {
				continue
			}
			latest, ok := p.Registry.LatestDefVersion(name)
			if !ok {
				continue
			}
			v = latest
		case VersionNumber:
			latest, _ := p.Registry.LatestDefVersion(name)
			if !p.Registry.HasSchema(name, h.Version.Value) || h.Version.Value < latest {
				// Leave this hook unresolved so resolveVersion re-checks it
				// in full and raises ObsoleteDefinition/UnknownDefinition
				// instead of caching a superseded or missing version.
				continue
			}
			v = h.Version.Value
		}
		resolved[h] = v
		lastConsumer[v] = i
	}
	return resolved, lastConsumer
}

func (p *Pipeline) resolveVersion(h *Hook, name string, nameOK bool, resolved map[*Hook]codec.DefVersion) (codec.DefVersion, error) {
	if v, ok := resolved[h]; ok {
		return v, nil
	}
	if !nameOK {
		return 0, newError(UnmappedName, fmt.Sprintf("opcode has no mapped message name for hook %s", h.ID), nil)
	}

	switch h.Version.Kind {
	case VersionAny:
		latest, ok := p.Registry.LatestDefVersion(name)
		if !ok {
			return 0, newError(UnknownDefinition, fmt.Sprintf("no known definition versions for %s", name), nil)
		}
		return latest, nil
	case VersionNumber:
		v := h.Version.Value
		if latest, ok := p.Registry.LatestDefVersion(name); ok && v < latest {
			return 0, newError(ObsoleteDefinition, fmt.Sprintf("%s v%d superseded by v%d", name, v, latest), nil)
		}
		if p.Registry.HasSchema(name, v) {
			return v, nil
		}
		return 0, newError(UnknownDefinition, fmt.Sprintf("%s has no schema for v%d", name, v), nil)
	default:
		return 0, newError(InvalidArgument, "raw hook has no definition version to resolve", nil)
	}
}

// invoke recovers a panicking callback into a CallbackFailure-shaped
// error, so one misbehaving hook cannot take the whole pipeline down.
func (p *Pipeline) invoke(h *Hook, ctx *HookContext) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, diagnostics.TrimFrames())
		}
	}()
	return h.Callback(ctx), nil
}
