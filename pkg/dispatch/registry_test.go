package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/protoproxy/dispatch/pkg/codec"
	"github.com/protoproxy/dispatch/pkg/frame"
)

func noopCallback(ctx *HookContext) Outcome { return Unchanged() }

func namedTestRegistry() *codec.MemoryRegistry {
	r := codec.NewMemoryRegistry()
	r.AddMessage(1, codec.Schema{Name: "TEST_MSG", Opcode: 1, DefVer: 1, Fields: []codec.FieldSpec{
		{Name: "value", Kind: codec.FieldUint8},
	}})
	return r
}

func TestIterateForCodeMergesWildcardAndOpcodeByOrder(t *testing.T) {
	r := NewHookRegistry(nil)

	wildFirst, err := r.Register(&Hook{Namespace: "a", Opcode: frame.Wildcard, Order: 5, Version: RawVersion(), Callback: noopCallback})
	require.NoError(t, err)

	opFirst, err := r.Register(&Hook{Namespace: "b", Opcode: 100, Order: 5, Version: RawVersion(), Callback: noopCallback})
	require.NoError(t, err)

	opSecond, err := r.Register(&Hook{Namespace: "c", Opcode: 100, Order: 10, Version: RawVersion(), Callback: noopCallback})
	require.NoError(t, err)

	wildLast, err := r.Register(&Hook{Namespace: "d", Opcode: frame.Wildcard, Order: 10, Version: RawVersion(), Callback: noopCallback})
	require.NoError(t, err)

	hooks := r.IterateForCode(100)
	ids := make([]string, len(hooks))
	for i, h := range hooks {
		ids[i] = h.ID
	}

	// order 5: wildcard wins the tie over the opcode-specific hook.
	// order 10: wildcard again wins the tie.
	require.Equal(t, []string{wildFirst, opFirst, wildLast, opSecond}, ids)
}

func TestRegisterRejectsWildcardWithNumericVersion(t *testing.T) {
	r := NewHookRegistry(nil)
	_, err := r.Register(&Hook{Opcode: frame.Wildcard, Version: NumberVersion(1), Callback: noopCallback})
	require.Error(t, err)

	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, InvalidArgument, derr.Kind)
}

func TestRegisterRejectsNilCallback(t *testing.T) {
	r := NewHookRegistry(nil)
	_, err := r.Register(&Hook{Opcode: 1})
	require.Error(t, err)
}

func TestUnregisterNamespaceRemovesAllHooksForThatNamespace(t *testing.T) {
	r := NewHookRegistry(nil)
	_, _ = r.Register(&Hook{Namespace: "mod-a", Opcode: 1, Version: RawVersion(), Callback: noopCallback})
	_, _ = r.Register(&Hook{Namespace: "mod-a", Opcode: 2, Version: RawVersion(), Callback: noopCallback})
	_, _ = r.Register(&Hook{Namespace: "mod-b", Opcode: 1, Version: RawVersion(), Callback: noopCallback})

	removed := r.UnregisterNamespace("mod-a")
	require.Equal(t, 2, removed)

	require.Empty(t, r.IterateForCode(2))
	require.Len(t, r.IterateForCode(1), 1)
}

func TestIterateForCodeRegistrationOrderWithinGroup(t *testing.T) {
	r := NewHookRegistry(nil)
	first, _ := r.Register(&Hook{Opcode: 1, Order: 0, Version: RawVersion(), Callback: noopCallback})
	second, _ := r.Register(&Hook{Opcode: 1, Order: 0, Version: RawVersion(), Callback: noopCallback})

	hooks := r.IterateForCode(1)
	require.Equal(t, []string{first, second}, []string{hooks[0].ID, hooks[1].ID})
}

func TestRegisterByNameResolvesOpcodeFromCodec(t *testing.T) {
	reg := namedTestRegistry()
	r := NewHookRegistry(reg)
	r.SetProtoVersion(1)

	id, err := r.Register(&Hook{Name: "TEST_MSG", Version: RawVersion(), Callback: noopCallback})
	require.NoError(t, err)

	hooks := r.IterateForCode(1)
	require.Len(t, hooks, 1)
	require.Equal(t, id, hooks[0].ID)
}

func TestRegisterByNameUnmappedNameErrors(t *testing.T) {
	reg := namedTestRegistry()
	r := NewHookRegistry(reg)
	r.SetProtoVersion(1)

	_, err := r.Register(&Hook{Name: "NO_SUCH_MESSAGE", Version: RawVersion(), Callback: noopCallback})
	require.Error(t, err)

	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, UnmappedName, derr.Kind)
}

func TestRegisterByNameUnknownDefinitionErrors(t *testing.T) {
	reg := namedTestRegistry()
	r := NewHookRegistry(reg)
	r.SetProtoVersion(1)

	_, err := r.Register(&Hook{Name: "TEST_MSG", Version: NumberVersion(99), Callback: noopCallback})
	require.Error(t, err)

	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, UnknownDefinition, derr.Kind)
}

func TestRegisterByNameObsoleteDefinitionErrors(t *testing.T) {
	reg := namedTestRegistry()
	reg.AddMessage(1, codec.Schema{Name: "TEST_MSG", Opcode: 1, DefVer: 2, Fields: []codec.FieldSpec{
		{Name: "value", Kind: codec.FieldUint8},
	}})
	r := NewHookRegistry(reg)
	r.SetProtoVersion(1)

	_, err := r.Register(&Hook{Name: "TEST_MSG", Version: NumberVersion(1), Callback: noopCallback})
	require.Error(t, err)

	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, ObsoleteDefinition, derr.Kind)
}

func TestRegisterWildcardByNameSkipsCodecResolution(t *testing.T) {
	r := NewHookRegistry(nil)
	id, err := r.Register(&Hook{Name: Wildcard, Version: RawVersion(), Callback: noopCallback})
	require.NoError(t, err)

	hooks := r.IterateForCode(12345)
	require.Len(t, hooks, 1)
	require.Equal(t, id, hooks[0].ID)
}

func TestRegisterDefaultsFakeAndSilencedToFalse(t *testing.T) {
	r := NewHookRegistry(nil)
	id, err := r.Register(&Hook{Opcode: 1, Version: RawVersion(), Callback: noopCallback})
	require.NoError(t, err)

	hooks := r.IterateForCode(1)
	require.Len(t, hooks, 1)
	require.Equal(t, id, hooks[0].ID)
	require.Equal(t, False, hooks[0].Filter.Fake)
	require.Equal(t, False, hooks[0].Filter.Silenced)
	require.Equal(t, Any, hooks[0].Filter.Incoming, "Incoming keeps Any as its default")
	require.Equal(t, Any, hooks[0].Filter.Modified, "Modified keeps Any as its default")
}

func TestRegisterArmsTimeoutAndFiresCallbackOnce(t *testing.T) {
	r := NewHookRegistry(nil)

	fired := make(chan *HookContext, 1)
	id, err := r.Register(&Hook{
		Opcode:  1,
		Version: RawVersion(),
		Timeout: 20 * time.Millisecond,
		Callback: func(ctx *HookContext) Outcome {
			fired <- ctx
			return Unchanged()
		},
	})
	require.NoError(t, err)

	select {
	case ctx := <-fired:
		require.Nil(t, ctx, "a timed-out hook's callback must be invoked with a nil HookContext")
	case <-time.After(time.Second):
		t.Fatal("timeout callback never fired")
	}

	require.Empty(t, r.IterateForCode(1), "the expired hook must be unregistered")
	_ = id
}

func TestRegisterTimeoutNeverFiresAfterExplicitUnregister(t *testing.T) {
	r := NewHookRegistry(nil)

	fired := false
	id, err := r.Register(&Hook{
		Opcode:  1,
		Version: RawVersion(),
		Timeout: 20 * time.Millisecond,
		Callback: func(ctx *HookContext) Outcome {
			fired = true
			return Unchanged()
		},
	})
	require.NoError(t, err)

	r.Unregister(id)
	time.Sleep(50 * time.Millisecond)
	require.False(t, fired, "unregistering before the timeout must cancel the pending timer")
}
