package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/protoproxy/dispatch/pkg/codec"
	"github.com/protoproxy/dispatch/pkg/frame"
)

func chatRegistry() *codec.MemoryRegistry {
	r := codec.NewMemoryRegistry()
	r.AddMessage(1, codec.Schema{
		Name:   "S_CHAT",
		Opcode: 200,
		DefVer: 1,
		Fields: []codec.FieldSpec{
			{Name: "text", Kind: codec.FieldString},
		},
	})
	return r
}

func buildFrame(op frame.Opcode, payload []byte) []byte {
	out := make([]byte, frame.HeaderSize+len(payload))
	copy(out[frame.HeaderSize:], payload)
	frame.PutHeader(out, op)
	return out
}

func encodeChat(t *testing.T, r codec.Registry, text string) []byte {
	t.Helper()
	ev := codec.NewEvent("S_CHAT", 1)
	ev.Set("text", text)
	payload, err := r.Write("S_CHAT", 1, ev)
	require.NoError(t, err)
	return buildFrame(200, payload)
}

func TestHandleNoMatchingHooksReturnsFrameUnchanged(t *testing.T) {
	registry := chatRegistry()
	hooks := NewHookRegistry(registry)
	p := NewPipeline(hooks, registry)
	p.ProtoVersion = 1

	raw := encodeChat(t, registry, "hi")
	out, silenced, err := p.Handle(context.Background(), raw, true, false)
	require.NoError(t, err)
	require.False(t, silenced)
	require.Equal(t, raw, out)
}

func TestHandleStructuredHookCommitRewritesPayload(t *testing.T) {
	registry := chatRegistry()
	hooks := NewHookRegistry(registry)
	p := NewPipeline(hooks, registry)
	p.ProtoVersion = 1

	_, err := hooks.Register(&Hook{
		Opcode:  200,
		Version: NumberVersion(1),
		Callback: func(ctx *HookContext) Outcome {
			ev := ctx.Event().(*codec.Event)
			ev.Set("text", "censored")
			return Commit()
		},
	})
	require.NoError(t, err)

	raw := encodeChat(t, registry, "original")
	out, silenced, err := p.Handle(context.Background(), raw, true, false)
	require.NoError(t, err)
	require.False(t, silenced)

	parsed, err := registry.Parse("S_CHAT", 1, out[frame.HeaderSize:])
	require.NoError(t, err)
	text, _ := parsed.(*codec.Event).Get("text")
	require.Equal(t, "censored", text)
}

func TestHandleCacheCloneIsolatesNonLastConsumer(t *testing.T) {
	registry := chatRegistry()
	hooks := NewHookRegistry(registry)
	p := NewPipeline(hooks, registry)
	p.ProtoVersion = 1

	var secondSawText string

	// Not the last consumer of v1: must receive an isolated clone.
	_, err := hooks.Register(&Hook{
		Opcode:  200,
		Order:   0,
		Version: NumberVersion(1),
		Callback: func(ctx *HookContext) Outcome {
			ev := ctx.Event().(*codec.Event)
			ev.Set("text", "mutated-by-first")
			return Unchanged() // no Commit: mutation must not leak
		},
	})
	require.NoError(t, err)

	// Last consumer: must see the original cached parse, not hook one's mutation.
	_, err = hooks.Register(&Hook{
		Opcode:  200,
		Order:   1,
		Version: NumberVersion(1),
		Callback: func(ctx *HookContext) Outcome {
			ev := ctx.Event().(*codec.Event)
			v, _ := ev.Get("text")
			secondSawText = v.(string)
			return Unchanged()
		},
	})
	require.NoError(t, err)

	raw := encodeChat(t, registry, "original")
	_, _, err = p.Handle(context.Background(), raw, true, false)
	require.NoError(t, err)
	require.Equal(t, "original", secondSawText)
}

func TestHandleRawHookAsymmetricModifiedRecomputation(t *testing.T) {
	registry := chatRegistry()
	hooks := NewHookRegistry(registry)
	p := NewPipeline(hooks, registry)
	p.ProtoVersion = 1

	var secondFlagsModified, thirdFlagsModified, fourthFlagsModified bool

	// First raw hook replaces the payload with something new.
	_, err := hooks.Register(&Hook{
		Opcode:  200,
		Order:   0,
		Version: RawVersion(),
		Callback: func(ctx *HookContext) Outcome {
			return ReplaceBytes([]byte("replaced"))
		},
	})
	require.NoError(t, err)

	// Second raw hook replaces with the SAME bytes as what it received:
	// modified must be recomputed against the previous hook's output, so
	// it comes back false even though the overall payload still differs
	// from the original.
	_, err = hooks.Register(&Hook{
		Opcode:  200,
		Order:   1,
		Version: RawVersion(),
		Callback: func(ctx *HookContext) Outcome {
			secondFlagsModified = ctx.Flags().Modified
			return ReplaceBytes(append([]byte(nil), ctx.Frame()...))
		},
	})
	require.NoError(t, err)

	// Third raw hook observes the false left by the second hook and offers
	// no replacement: modified is then recomputed against the original
	// payload instead, so it comes back true.
	_, err = hooks.Register(&Hook{
		Opcode:  200,
		Order:   2,
		Version: RawVersion(),
		Callback: func(ctx *HookContext) Outcome {
			thirdFlagsModified = ctx.Flags().Modified
			return Unchanged()
		},
	})
	require.NoError(t, err)

	_, err = hooks.Register(&Hook{
		Opcode:  200,
		Order:   3,
		Version: RawVersion(),
		Callback: func(ctx *HookContext) Outcome {
			fourthFlagsModified = ctx.Flags().Modified
			return Unchanged()
		},
	})
	require.NoError(t, err)

	raw := encodeChat(t, registry, "original")
	out, _, err := p.Handle(context.Background(), raw, true, false)
	require.NoError(t, err)
	require.True(t, secondFlagsModified, "first hook's replacement must have set Modified before the second hook ran")
	require.False(t, thirdFlagsModified, "an identical replacement is compared with the previous hook's output")
	require.True(t, fourthFlagsModified, "no replacement is compared with the original payload")
	require.Equal(t, []byte("replaced"), out[frame.HeaderSize:])
}

func TestHandleSuppressionMarksFlagSilenced(t *testing.T) {
	registry := chatRegistry()
	hooks := NewHookRegistry(registry)
	p := NewPipeline(hooks, registry)
	p.ProtoVersion = 1

	_, err := hooks.Register(&Hook{
		Opcode:  200,
		Version: RawVersion(),
		Callback: func(ctx *HookContext) Outcome {
			return Suppress()
		},
	})
	require.NoError(t, err)

	raw := encodeChat(t, registry, "original")
	_, silenced, err := p.Handle(context.Background(), raw, true, false)
	require.NoError(t, err)
	require.True(t, silenced)
}

func TestHandleUnknownDefinitionVersionSwallowsAndForwardsUnchanged(t *testing.T) {
	registry := chatRegistry()
	hooks := NewHookRegistry(registry)
	p := NewPipeline(hooks, registry)
	p.ProtoVersion = 1

	called := false
	// Bypass name-based registration (which would reject this at Register
	// time): this hook exercises the per-frame resolveVersion path inside
	// Handle directly, simulating a schema that existed at registration
	// but was later removed from the registry.
	_, err := hooks.Register(&Hook{Opcode: 200, Version: NumberVersion(99), Callback: func(ctx *HookContext) Outcome {
		called = true
		return Unchanged()
	}})
	require.NoError(t, err)

	raw := encodeChat(t, registry, "original")
	out, silenced, err := p.Handle(context.Background(), raw, true, false)
	require.NoError(t, err, "an unresolvable hook must be logged and skipped, not abort the frame")
	require.False(t, silenced)
	require.Equal(t, raw, out)
	require.False(t, called, "the callback must never run when its version can't be resolved")
}

func TestHandleObsoleteDefinitionVersionSwallowsAndForwardsUnchanged(t *testing.T) {
	registry := chatRegistry()
	registry.AddMessage(1, codec.Schema{Name: "S_CHAT", Opcode: 200, DefVer: 2, Fields: []codec.FieldSpec{
		{Name: "text", Kind: codec.FieldString},
	}})
	hooks := NewHookRegistry(registry)
	p := NewPipeline(hooks, registry)
	p.ProtoVersion = 1

	called := false
	_, err := hooks.Register(&Hook{Opcode: 200, Version: NumberVersion(1), Callback: func(ctx *HookContext) Outcome {
		called = true
		return Unchanged()
	}})
	require.NoError(t, err)

	raw := buildFrame(200, mustWrite(t, registry, 2, "original"))
	out, silenced, err := p.Handle(context.Background(), raw, true, false)
	require.NoError(t, err, "a superseded defVersion must be logged and skipped, not abort the frame")
	require.False(t, silenced)
	require.Equal(t, raw, out)
	require.False(t, called)
}

func mustWrite(t *testing.T, r codec.Registry, v codec.DefVersion, text string) []byte {
	t.Helper()
	ev := codec.NewEvent("S_CHAT", 1)
	ev.Set("text", text)
	payload, err := r.Write("S_CHAT", v, ev)
	require.NoError(t, err)
	return payload
}
