package dispatch

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/protoproxy/dispatch/pkg/codec"
	"github.com/protoproxy/dispatch/pkg/frame"
)

// Wildcard is the message name a hook registers against to match every
// opcode, rather than one specific message.
const Wildcard = "*"

// hookGroup is every Hook registered at the same opcode (or wildcard) and
// the same order, kept in registration order. Grouping by order lets
// iterateForCode merge the wildcard and opcode-specific orderings as a
// single ascending-order walk without re-sorting on every frame.
type hookGroup struct {
	order int
	hooks []*Hook
}

// HookRegistry is the Hook Registry component (spec.md §4.1): per-opcode
// hook storage plus the merge rule iterateForCode applies at dispatch
// time. Safe for concurrent use: every method takes the registry's
// RWMutex, since hook timeouts fire on their own timer goroutines while
// the connection's handle() loop may be reading.
type HookRegistry struct {
	mu           sync.RWMutex
	byOpcode     map[frame.Opcode][]*hookGroup
	wildcard     []*hookGroup
	byID         map[string]*Hook
	byNamespace  map[string][]string // namespace -> hook IDs
	timers       map[string]*time.Timer
	codec        codec.Registry
	protoVersion codec.ProtoVersion
}

// NewHookRegistry returns an empty registry backed by reg for resolving a
// hook's message name to an opcode at registration time. reg may be nil
// only for tests that register hooks directly by numeric Opcode and never
// set Name.
func NewHookRegistry(reg codec.Registry) *HookRegistry {
	return &HookRegistry{
		byOpcode:    make(map[frame.Opcode][]*hookGroup),
		wildcard:    nil,
		byID:        make(map[string]*Hook),
		byNamespace: make(map[string][]string),
		timers:      make(map[string]*time.Timer),
		codec:       reg,
	}
}

// SetProtoVersion updates the protocol version Register resolves message
// names against. Dispatch.SetProtocolVersion keeps this in sync with the
// Pipeline's own copy.
func (r *HookRegistry) SetProtoVersion(pv codec.ProtoVersion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.protoVersion = pv
}

// Register validates and inserts h, assigning an ID if h.ID is empty.
//
// If h.Name is set (and is not Wildcard), the opcode is resolved from the
// Codec Registry for the currently active protocol version: an unmapped
// name fails with UnmappedName, and, for a structured hook, a numeric
// defVersion below the message's latest known version fails with
// ObsoleteDefinition while one with no schema fails with
// UnknownDefinition, the same check the Handler Pipeline's
// resolveVersion makes for each frame. Hooks
// registered with Name == Wildcard, or with Name left empty and an
// explicit numeric h.Opcode, skip name resolution entirely.
//
// It rejects a wildcard opcode combined with a numeric (non-"*"/"raw")
// definition version: a hook that fans out across every opcode cannot
// pin a single message's field layout, since different messages at the
// same opcode number don't exist but different messages entirely do.
//
// Register also fills in Filter defaults: Fake and Silenced default to
// False when left as Any, since a module that never mentions fake/silenced
// visibility should not silently observe synthesized or already-suppressed
// frames. Incoming and Modified keep Any as their default.
func (r *HookRegistry) Register(h *Hook) (string, error) {
	if h.Callback == nil {
		return "", newError(InvalidArgument, "hook callback must not be nil", nil)
	}

	r.mu.Lock()
	pv := r.protoVersion
	r.mu.Unlock()

	if h.Name != "" && h.Name != Wildcard {
		if r.codec == nil {
			return "", newError(InvalidArgument, fmt.Sprintf("hook %q registered by name but registry has no codec", h.Name), nil)
		}
		op, ok := r.codec.ResolveName(pv, h.Name)
		if !ok {
			return "", newError(UnmappedName, fmt.Sprintf("message %q has no opcode under protocol version %d", h.Name, pv), nil)
		}
		h.Opcode = op

		if h.Version.Kind != VersionRaw {
			if err := r.validateVersion(h.Name, h.Version); err != nil {
				return "", err
			}
		}
	} else if h.Name == Wildcard {
		h.Opcode = frame.Wildcard
	}

	if h.Opcode == frame.Wildcard && h.Version.Kind == VersionNumber {
		return "", newError(InvalidArgument, "wildcard opcode cannot be combined with a numeric defVersion", nil)
	}

	if h.Filter.Fake == Any {
		h.Filter.Fake = False
	}
	if h.Filter.Silenced == Any {
		h.Filter.Silenced = False
	}

	if h.ID == "" {
		h.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h.Opcode == frame.Wildcard {
		r.wildcard = insertHook(r.wildcard, h)
	} else {
		r.byOpcode[h.Opcode] = insertHook(r.byOpcode[h.Opcode], h)
	}
	r.byID[h.ID] = h
	r.byNamespace[h.Namespace] = append(r.byNamespace[h.Namespace], h.ID)

	if h.Timeout > 0 {
		id := h.ID
		r.timers[id] = time.AfterFunc(h.Timeout, func() { r.expire(id) })
	}

	return h.ID, nil
}

// validateVersion checks that name has a schema matching version at
// registration time, the same check resolveVersion performs per-frame.
func (r *HookRegistry) validateVersion(name string, version HookVersion) error {
	switch version.Kind {
	case VersionAny:
		if _, ok := r.codec.LatestDefVersion(name); !ok {
			return newError(UnknownDefinition, fmt.Sprintf("no known definition versions for %s", name), nil)
		}
	case VersionNumber:
		if latest, ok := r.codec.LatestDefVersion(name); ok && version.Value < latest {
			return newError(ObsoleteDefinition, fmt.Sprintf("%s v%d superseded by v%d", name, version.Value, latest), nil)
		}
		if r.codec.HasSchema(name, version.Value) {
			return nil
		}
		return newError(UnknownDefinition, fmt.Sprintf("%s has no schema for v%d", name, version.Value), nil)
	}
	return nil
}

// expire fires when a hook's Timeout elapses: it unregisters the hook (a
// no-op if it was already unregistered in the race with this timer) and,
// if it was still registered, invokes its callback exactly once with a
// nil HookContext so the module can run timeout cleanup logic.
func (r *HookRegistry) expire(id string) {
	r.mu.Lock()
	h, ok := r.byID[id]
	if ok {
		r.unregisterLocked(id)
	}
	delete(r.timers, id)
	r.mu.Unlock()

	if ok {
		h.Callback(nil)
	}
}

// Unregister removes a single hook by ID. It is a no-op if the ID is
// unknown, so callers don't need to guard double-unregistration.
func (r *HookRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(id)
}

func (r *HookRegistry) unregisterLocked(id string) {
	h, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)

	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}

	if h.Opcode == frame.Wildcard {
		r.wildcard = removeHook(r.wildcard, id)
	} else {
		r.byOpcode[h.Opcode] = removeHook(r.byOpcode[h.Opcode], id)
		if len(r.byOpcode[h.Opcode]) == 0 {
			delete(r.byOpcode, h.Opcode)
		}
	}

	ids := r.byNamespace[h.Namespace]
	for i, existing := range ids {
		if existing == id {
			r.byNamespace[h.Namespace] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byNamespace[h.Namespace]) == 0 {
		delete(r.byNamespace, h.Namespace)
	}
}

// UnregisterNamespace removes every hook owned by namespace (the Module
// Host's unload operation, spec.md §4.4) and returns how many were
// removed.
func (r *HookRegistry) UnregisterNamespace(namespace string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := append([]string(nil), r.byNamespace[namespace]...)
	for _, id := range ids {
		r.unregisterLocked(id)
	}
	return len(ids)
}

// IterateForCode returns every hook that could match a frame at op, in
// the order the Handler Pipeline must evaluate them: wildcard and
// opcode-specific hookGroups merged by ascending order, wildcard winning
// ties, registration order preserved within a group (spec.md §4.1).
func (r *HookRegistry) IterateForCode(op frame.Opcode) []*Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wGroups := r.wildcard
	oGroups := r.byOpcode[op]

	result := make([]*Hook, 0, len(wGroups)+len(oGroups))
	i, j := 0, 0
	for i < len(wGroups) && j < len(oGroups) {
		wg, og := wGroups[i], oGroups[j]
		if wg.order <= og.order {
			result = append(result, wg.hooks...)
			i++
		} else {
			result = append(result, og.hooks...)
			j++
		}
	}
	for ; i < len(wGroups); i++ {
		result = append(result, wGroups[i].hooks...)
	}
	for ; j < len(oGroups); j++ {
		result = append(result, oGroups[j].hooks...)
	}
	return result
}

// ListAll returns every registered hook, for introspection (the CLI's
// `hooks list`). Order is unspecified across opcodes.
func (r *HookRegistry) ListAll() []*Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Hook, 0, len(r.byID))
	for _, h := range r.byID {
		out = append(out, h)
	}
	return out
}

func insertHook(groups []*hookGroup, h *Hook) []*hookGroup {
	idx := sort.Search(len(groups), func(i int) bool { return groups[i].order >= h.Order })
	if idx < len(groups) && groups[idx].order == h.Order {
		groups[idx].hooks = append(groups[idx].hooks, h)
		return groups
	}
	groups = append(groups, nil)
	copy(groups[idx+1:], groups[idx:])
	groups[idx] = &hookGroup{order: h.Order, hooks: []*Hook{h}}
	return groups
}

func removeHook(groups []*hookGroup, id string) []*hookGroup {
	for gi, g := range groups {
		for hi, h := range g.hooks {
			if h.ID != id {
				continue
			}
			g.hooks = append(g.hooks[:hi], g.hooks[hi+1:]...)
			if len(g.hooks) == 0 {
				groups = append(groups[:gi], groups[gi+1:]...)
			}
			return groups
		}
	}
	return groups
}
