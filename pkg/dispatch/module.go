package dispatch

import (
	"fmt"
	"sync"
	"time"
)

// Module is the lifecycle contract a loaded module satisfies. Destroy is
// called once, during Unload; a module with nothing to clean up can
// return nil.
type Module interface {
	Destroy() error
}

// Constructor builds a Module instance, registering whatever hooks it
// needs against the Wrapper it is given. args are passed through
// verbatim from ModuleHost.Load.
type Constructor func(w *Wrapper, args ...any) (Module, error)

// Loader resolves a module name to its Constructor. A module search
// directory, a compiled-in registry, or a plugin loader can all implement
// this interface; ModuleHost doesn't care which.
type Loader interface {
	Resolve(name string) (Constructor, error)
}

// StaticLoader is a Loader backed by a fixed, compiled-in map — the only
// kind of loader this repository ships, since dynamic plugin loading is
// out of scope (spec.md §1's module-sandboxing non-goal).
type StaticLoader map[string]Constructor

// Resolve implements Loader.
func (l StaticLoader) Resolve(name string) (Constructor, error) {
	ctor, ok := l[name]
	if !ok {
		return nil, newError(InvalidArgument, fmt.Sprintf("no module registered under name %q", name), nil)
	}
	return ctor, nil
}

// Wrapper is the namespaced facade a module's Constructor uses to
// register hooks. Every hook it registers is tagged with the module's
// namespace, so ModuleHost.Unload can remove them all in one call without
// the module tracking its own hook IDs (though it still can, via the
// returned IDs, for narrower self-unhooking).
type Wrapper struct {
	namespace string
	hooks     *HookRegistry
}

// Namespace returns the module's namespace.
func (w *Wrapper) Namespace() string { return w.namespace }

// Hook registers a new hook under this module's namespace, against the
// message name (or Wildcard) rather than a raw opcode: name is resolved
// to an opcode through the Codec Registry for the currently negotiated
// protocol version at registration time.
func (w *Wrapper) Hook(name string, version HookVersion, order int, filter Filter, cb Callback) (string, error) {
	return w.hooks.Register(&Hook{
		Name:      name,
		Namespace: w.namespace,
		Filter:    filter,
		Order:     order,
		Version:   version,
		Callback:  cb,
	})
}

// HookTimeout registers a new hook the same way Hook does, additionally
// arming a one-shot timeout: if it is still registered when timeout
// elapses, it is unregistered and its callback invoked once with a nil
// HookContext.
func (w *Wrapper) HookTimeout(name string, version HookVersion, order int, filter Filter, timeout time.Duration, cb Callback) (string, error) {
	return w.hooks.Register(&Hook{
		Name:      name,
		Namespace: w.namespace,
		Filter:    filter,
		Order:     order,
		Version:   version,
		Callback:  cb,
		Timeout:   timeout,
	})
}

// Unhook removes a single hook previously registered through this Wrapper.
func (w *Wrapper) Unhook(id string) { w.hooks.Unregister(id) }

type instance struct {
	namespace string
	module    Module
}

// ModuleHost is the Module Host component (spec.md §4.4): it loads
// modules against namespaced Wrappers and unloads them by namespace,
// rolling back partial hook registrations on a failed load and tolerating
// a partially-failed prior load on unload.
type ModuleHost struct {
	mu        sync.RWMutex
	hooks     *HookRegistry
	loader    Loader
	instances map[string]*instance
}

// NewModuleHost returns a ModuleHost backed by hooks and resolving module
// names through loader.
func NewModuleHost(hooks *HookRegistry, loader Loader) *ModuleHost {
	return &ModuleHost{
		hooks:     hooks,
		loader:    loader,
		instances: make(map[string]*instance),
	}
}

// Load resolves moduleName through the Loader and runs its Constructor
// under a Wrapper namespaced to namespace. If the Constructor returns an
// error, every hook it managed to register before failing is rolled back
// before Load returns, so a failed load never leaves partial state behind.
func (m *ModuleHost) Load(namespace, moduleName string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.instances[namespace]; exists {
		return newError(InvalidArgument, fmt.Sprintf("namespace %q is already loaded", namespace), nil)
	}

	ctor, err := m.loader.Resolve(moduleName)
	if err != nil {
		return err
	}

	wrapper := &Wrapper{namespace: namespace, hooks: m.hooks}
	mod, err := ctor(wrapper, args...)
	if err != nil {
		m.hooks.UnregisterNamespace(namespace)
		return newError(CallbackFailure, fmt.Sprintf("constructing module %q under namespace %q", moduleName, namespace), err)
	}

	m.instances[namespace] = &instance{namespace: namespace, module: mod}
	return nil
}

// Unload removes every hook registered under namespace and invokes the
// module's Destroy, if one was ever successfully constructed. It always
// removes the namespace's hooks and instance record, even when Destroy
// returns an error or no instance was ever recorded (a namespace left
// with orphaned hooks from a prior partial load still gets cleaned up).
func (m *ModuleHost) Unload(namespace string) error {
	m.mu.Lock()
	inst, hadInstance := m.instances[namespace]
	delete(m.instances, namespace)
	m.mu.Unlock()

	m.hooks.UnregisterNamespace(namespace)

	if !hadInstance || inst.module == nil {
		return nil
	}
	if err := inst.module.Destroy(); err != nil {
		return newError(CallbackFailure, fmt.Sprintf("destroying module under namespace %q", namespace), err)
	}
	return nil
}

// Loaded returns the namespaces of every currently loaded module.
func (m *ModuleHost) Loaded() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.instances))
	for ns := range m.instances {
		out = append(out, ns)
	}
	return out
}
