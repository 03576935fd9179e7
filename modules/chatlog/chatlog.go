// Package chatlog is an example module demonstrating the Module contract
// (pkg/dispatch's Constructor/Module interfaces): it hooks every chat
// message raw, records it in memory, and removes its hook on Destroy.
package chatlog

import (
	"sync"

	"github.com/protoproxy/dispatch/pkg/dispatch"
)

// ChatMessage is the message name this module listens on, resolved to an
// opcode through the Codec Registry for the currently negotiated protocol
// version.
const ChatMessage = "S_CHAT"

// Module records every chat frame it observes, in arrival order.
type Module struct {
	mu       sync.Mutex
	messages [][]byte
	hookID   string
	wrapper  *dispatch.Wrapper
}

// New is a dispatch.Constructor: it registers a raw hook on ChatMessage
// and returns a Module ready for Destroy when the namespace is unloaded.
func New(w *dispatch.Wrapper, args ...any) (dispatch.Module, error) {
	m := &Module{wrapper: w}

	id, err := w.Hook(ChatMessage, dispatch.RawVersion(), 0, dispatch.Filter{Incoming: dispatch.True}, m.onChat)
	if err != nil {
		return nil, err
	}
	m.hookID = id
	return m, nil
}

func (m *Module) onChat(ctx *dispatch.HookContext) dispatch.Outcome {
	m.mu.Lock()
	m.messages = append(m.messages, append([]byte(nil), ctx.Frame()...))
	m.mu.Unlock()
	return dispatch.Unchanged()
}

// Messages returns every chat payload observed so far, in arrival order.
func (m *Module) Messages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.messages))
	copy(out, m.messages)
	return out
}

// Destroy implements dispatch.Module. The hook is also removed in bulk by
// ModuleHost.Unload's namespace sweep, but removing it explicitly here
// means Module is self-contained if ever driven outside a ModuleHost.
func (m *Module) Destroy() error {
	m.wrapper.Unhook(m.hookID)
	return nil
}
