package dispatch

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/protoproxy/dispatch/internal/logger"
	"github.com/protoproxy/dispatch/pkg/codec"
	"github.com/protoproxy/dispatch/pkg/frame"
	"github.com/protoproxy/dispatch/pkg/sysmsg"
)

// revisionPattern implements the grammar SPEC_FULL.md §6 assigns to
// protocol revision strings: (REGION-)?MAJOR(.MINOR)?(/SYSMSG)?
var revisionPattern = regexp.MustCompile(`^(?:([A-Za-z]+)-)?(\d+)(?:\.(\d+))?(?:/(\d+))?$`)

// Revision is a parsed protocol revision string.
type Revision struct {
	Region     string // "" if the string carried no region tag
	Major      int
	Minor      int // 0 if the string carried no minor component
	HasMinor   bool
	SysMsgVer  int // 0 if the string carried no sysmsg component
	HasSysMsg  bool
	raw        string
}

// String returns the original revision string this Revision was parsed from.
func (r Revision) String() string { return r.raw }

// ParseRevision parses a revision string against the
// (REGION-)?MAJOR(.MINOR)?(/SYSMSG)? grammar.
func ParseRevision(s string) (Revision, error) {
	m := revisionPattern.FindStringSubmatch(s)
	if m == nil {
		return Revision{}, newError(InvalidArgument, fmt.Sprintf("revision %q does not match (REGION-)?MAJOR(.MINOR)?(/SYSMSG)?", s), nil)
	}

	rev := Revision{Region: m[1], raw: s}

	major, err := strconv.Atoi(m[2])
	if err != nil {
		return Revision{}, newError(InvalidArgument, fmt.Sprintf("revision %q has invalid major component", s), err)
	}
	rev.Major = major

	if m[3] != "" {
		minor, err := strconv.Atoi(m[3])
		if err != nil {
			return Revision{}, newError(InvalidArgument, fmt.Sprintf("revision %q has invalid minor component", s), err)
		}
		rev.Minor = minor
		rev.HasMinor = true
	}

	if m[4] != "" {
		sv, err := strconv.Atoi(m[4])
		if err != nil {
			return Revision{}, newError(InvalidArgument, fmt.Sprintf("revision %q has invalid sysmsg component", s), err)
		}
		rev.SysMsgVer = sv
		rev.HasSysMsg = true
	}

	return rev, nil
}

// Dispatch is the Dispatch Facade component (spec.md §4.3): the single
// entry point connection code and modules use to push frames through the
// Handler Pipeline, negotiate the protocol version, and translate system
// messages.
type Dispatch struct {
	mu sync.RWMutex

	Hooks    *HookRegistry
	Modules  *ModuleHost
	Pipeline *Pipeline

	registry     codec.Registry
	sysTable     *sysmsg.Table
	revision     Revision
	protoVersion codec.ProtoVersion
	negotiated   bool
}

// NewDispatch wires a HookRegistry, codec.Registry, and sysmsg.Table into
// a ready-to-use Dispatch. The Pipeline's version snoop is wired here so
// a C_CHECK_VERSION frame updates the negotiated protocol version before
// any hook observes it.
func NewDispatch(registry codec.Registry, sysTable *sysmsg.Table) *Dispatch {
	hooks := NewHookRegistry(registry)
	pipeline := NewPipeline(hooks, registry)

	d := &Dispatch{
		Hooks:    hooks,
		Pipeline: pipeline,
		registry: registry,
		sysTable: sysTable,
	}
	d.Modules = NewModuleHost(hooks, StaticLoader{})

	pipeline.VersionSnoop = d.snoopCheckVersion

	return d
}

// snoopCheckVersion is the Pipeline's VersionSnoopFunc. It parses a
// C_CHECK_VERSION frame's payload via the codec under the lowest known
// protocol version at defVersion 1, reads the embedded version array's
// first element's index field, and negotiates the protocol version from
// its value field only when index is 0 and nothing has negotiated yet —
// later elements in the array describe protocol versions this proxy
// isn't the first hop for, and re-snooping after negotiation would let a
// later, unrelated handshake silently renegotiate an active session.
func (d *Dispatch) snoopCheckVersion(payload []byte) {
	d.mu.RLock()
	already := d.negotiated
	d.mu.RUnlock()
	if already {
		return
	}

	pv, ok := d.registry.FirstProtoVersion()
	if !ok {
		logger.Warn("C_CHECK_VERSION received but registry has no protocol versions loaded")
		return
	}
	name, ok := d.registry.ResolveOpcode(pv, uint16(CheckVersionOpcode))
	if !ok {
		logger.Warn("C_CHECK_VERSION opcode is unmapped under the lowest known protocol version", logger.ProtocolVersion(int(pv)))
		return
	}

	val, err := d.registry.Parse(name, 1, payload)
	if err != nil {
		logger.Warn("C_CHECK_VERSION payload failed to parse", logger.Message(name), logger.Err(err))
		return
	}
	ev, ok := val.(*codec.Event)
	if !ok {
		return
	}

	idxVal, ok := ev.Get("index")
	if !ok {
		return
	}
	idx, ok := toInt(idxVal)
	if !ok || idx != 0 {
		return
	}

	verVal, ok := ev.Get("value")
	if !ok {
		return
	}
	v, ok := toInt(verVal)
	if !ok {
		return
	}

	if err := d.SetProtocolVersion(v); err != nil {
		logger.Warn("negotiated protocol version rejected", logger.Err(err))
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// SetProtocolVersion explicitly negotiates the active protocol version,
// overriding whatever C_CHECK_VERSION snooping may have already set. It
// stores v, keeps the Pipeline's and HookRegistry's own copies of the
// protocol version in sync, and resolves v's bundle revision string to
// refresh ProtocolVersion's parsed Region/Major/Minor/SysMsgVer fields.
//
// v == 0 is accepted silently and clears negotiation without touching the
// codec: it is the "no protocol negotiated yet" sentinel. A non-zero v
// that the registry has no bundle revision for (unknown to the registry,
// or registered without a revision string) is also not an error: it is
// logged and v is still remembered, since callers may intentionally
// negotiate a protocol version ahead of loading its bundle.
func (d *Dispatch) SetProtocolVersion(v int) error {
	pv := codec.ProtoVersion(v)

	d.mu.Lock()
	d.protoVersion = pv
	d.negotiated = v != 0
	if v == 0 {
		d.revision = Revision{}
	}
	d.mu.Unlock()

	d.Pipeline.ProtoVersion = pv
	d.Hooks.SetProtoVersion(pv)

	if v == 0 {
		return nil
	}

	revision, ok := d.registry.Revision(pv)
	if !ok || revision == "" {
		logger.Warn("protocol version has no bundle revision registered", logger.ProtocolVersion(v))
		return nil
	}

	rev, err := ParseRevision(revision)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.revision = rev
	d.mu.Unlock()
	return nil
}

// ProtocolVersion returns the currently negotiated revision.
func (d *Dispatch) ProtocolVersion() Revision {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.revision
}

// Handle runs a wire-received frame through the Handler Pipeline.
func (d *Dispatch) Handle(ctx context.Context, raw []byte, incoming bool) (out []byte, silenced bool, err error) {
	return d.Pipeline.Handle(ctx, raw, incoming, false)
}

// Write serializes a structured value as a named message and re-enters
// the Handler Pipeline as a fake (synthesized, not wire-received) frame —
// so modules that build their own messages still go through every hook
// that would see a real one.
func (d *Dispatch) Write(ctx context.Context, name string, defVersion codec.DefVersion, val codec.Value, incoming bool) (out []byte, silenced bool, err error) {
	d.mu.RLock()
	pv := d.protoVersion
	d.mu.RUnlock()

	op, ok := d.registry.ResolveName(pv, name)
	if !ok {
		return nil, false, newError(UnmappedName, fmt.Sprintf("message %q has no opcode under the active protocol version", name), nil)
	}

	payload, werr := d.registry.Write(name, defVersion, val)
	if werr != nil {
		return nil, false, newError(CodecFailure, fmt.Sprintf("writing %s v%d", name, defVersion), werr)
	}

	raw := make([]byte, frame.HeaderSize+len(payload))
	copy(raw[frame.HeaderSize:], payload)
	frame.PutHeader(raw, frame.Opcode(op))

	return d.Pipeline.Handle(ctx, raw, incoming, true)
}

// ParseSystemMessage decodes a system message in the
// `@id(\vkey\vvalue)*` wire format using the currently loaded
// System-Message Table.
func (d *Dispatch) ParseSystemMessage(raw string) (name string, fields map[string]string, err error) {
	if d.sysTable == nil {
		return "", nil, newError(InvalidArgument, "no system-message table loaded", nil)
	}
	return d.sysTable.Parse(raw)
}

// BuildSystemMessage encodes a system message name and fields into the
// `@id(\vkey\vvalue)*` wire format.
func (d *Dispatch) BuildSystemMessage(name string, fields map[string]string, keysInOrder []string) (string, error) {
	if d.sysTable == nil {
		return "", newError(InvalidArgument, "no system-message table loaded", nil)
	}
	return d.sysTable.Build(name, fields, keysInOrder)
}

// Reset clears the negotiated protocol version and revision, as happens
// when a connection reconnects and must renegotiate from scratch. It does
// not touch loaded modules or registered hooks — those are the Module
// Host's concern, not the handshake's.
func (d *Dispatch) Reset() {
	d.mu.Lock()
	d.revision = Revision{}
	d.protoVersion = 0
	d.negotiated = false
	d.mu.Unlock()
	d.Pipeline.ProtoVersion = 0
	d.Hooks.SetProtoVersion(0)
}
