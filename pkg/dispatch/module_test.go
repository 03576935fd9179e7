package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/protoproxy/dispatch/pkg/codec"
)

type fakeModule struct {
	destroyErr error
	destroyed  bool
}

func (m *fakeModule) Destroy() error {
	m.destroyed = true
	return m.destroyErr
}

// testHookRegistry returns a HookRegistry whose codec maps "TEST_MSG" to
// opcode 1 under protocol version 1, for Constructors that register hooks
// by name.
func testHookRegistry() *HookRegistry {
	reg := codec.NewMemoryRegistry()
	reg.AddMessage(1, codec.Schema{Name: "TEST_MSG", Opcode: 1, DefVer: 1})
	r := NewHookRegistry(reg)
	r.SetProtoVersion(1)
	return r
}

func TestModuleHostLoadRollsBackHooksOnConstructorFailure(t *testing.T) {
	hooks := testHookRegistry()
	loader := StaticLoader{
		"broken": func(w *Wrapper, args ...any) (Module, error) {
			_, err := w.Hook("TEST_MSG", RawVersion(), 0, Filter{}, noopCallback)
			require.NoError(t, err)
			return nil, errors.New("boom")
		},
	}
	host := NewModuleHost(hooks, loader)

	err := host.Load("ns1", "broken")
	require.Error(t, err)
	require.Empty(t, hooks.IterateForCode(1))
	require.Empty(t, host.Loaded())
}

func TestModuleHostLoadRejectsDuplicateNamespace(t *testing.T) {
	hooks := testHookRegistry()
	loader := StaticLoader{
		"ok": func(w *Wrapper, args ...any) (Module, error) { return &fakeModule{}, nil },
	}
	host := NewModuleHost(hooks, loader)

	require.NoError(t, host.Load("ns1", "ok"))
	err := host.Load("ns1", "ok")
	require.Error(t, err)
}

func TestModuleHostUnloadRemovesHooksAndCallsDestroy(t *testing.T) {
	hooks := testHookRegistry()
	mod := &fakeModule{}
	loader := StaticLoader{
		"ok": func(w *Wrapper, args ...any) (Module, error) {
			_, err := w.Hook("TEST_MSG", RawVersion(), 0, Filter{}, noopCallback)
			require.NoError(t, err)
			return mod, nil
		},
	}
	host := NewModuleHost(hooks, loader)
	require.NoError(t, host.Load("ns1", "ok"))
	require.Len(t, hooks.IterateForCode(1), 1)

	require.NoError(t, host.Unload("ns1"))
	require.True(t, mod.destroyed)
	require.Empty(t, hooks.IterateForCode(1))
	require.Empty(t, host.Loaded())
}

func TestModuleHostUnloadSurfacesDestroyErrorButStillCleansUp(t *testing.T) {
	hooks := testHookRegistry()
	mod := &fakeModule{destroyErr: errors.New("cleanup failed")}
	loader := StaticLoader{
		"ok": func(w *Wrapper, args ...any) (Module, error) { return mod, nil },
	}
	host := NewModuleHost(hooks, loader)
	require.NoError(t, host.Load("ns1", "ok"))

	err := host.Unload("ns1")
	require.Error(t, err)
	require.Empty(t, host.Loaded())
}

func TestModuleHostUnloadUnknownNamespaceIsNoop(t *testing.T) {
	hooks := testHookRegistry()
	host := NewModuleHost(hooks, StaticLoader{})
	require.NoError(t, host.Unload("never-loaded"))
}
