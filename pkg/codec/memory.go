package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Event is the generic structured Value every MemoryRegistry produces from
// Parse. It stores decoded fields by name in declaration order and
// implements Value with a deep copy, so a Handler Pipeline clone never
// shares field storage with the cached original (spec.md §8, property 3).
type Event struct {
	Name   string
	DefVer DefVersion
	fields []FieldSpec
	values map[string]any
}

// NewEvent returns an empty Event ready for Set calls, for code building
// a message to send rather than one parsed off the wire.
func NewEvent(name string, defVer DefVersion) *Event {
	return &Event{Name: name, DefVer: defVer, values: make(map[string]any)}
}

// Get returns a field's decoded value and whether it was present.
func (e *Event) Get(name string) (any, bool) {
	v, ok := e.values[name]
	return v, ok
}

// Set assigns a field's value. The caller is responsible for matching the
// field's declared FieldKind; Write will fail at encode time otherwise.
func (e *Event) Set(name string, v any) {
	if e.values == nil {
		e.values = make(map[string]any)
	}
	e.values[name] = v
}

// Clone implements Value.
func (e *Event) Clone() Value {
	cp := &Event{
		Name:   e.Name,
		DefVer: e.DefVer,
		fields: e.fields, // schema is immutable, safe to share
		values: make(map[string]any, len(e.values)),
	}
	for k, v := range e.values {
		if b, ok := v.([]byte); ok {
			dup := make([]byte, len(b))
			copy(dup, b)
			cp.values[k] = dup
			continue
		}
		cp.values[k] = v
	}
	return cp
}

// protoMap holds one protocol version's name<->opcode mapping and the
// revision string its bundle declared.
type protoMap struct {
	nameToOpcode map[string]uint16
	opcodeToName map[uint16]string
	revision     string
}

func newProtoMap() *protoMap {
	return &protoMap{
		nameToOpcode: make(map[string]uint16),
		opcodeToName: make(map[uint16]string),
	}
}

// MemoryRegistry is an in-memory Registry implementation backed by a
// per-ProtoVersion name/opcode map and a global set of per-message schema
// versions a Bundle loads. It is the Registry the Protocol Definition
// Loader (§4.5) populates and the one used by pkg/dispatch's tests.
type MemoryRegistry struct {
	protos  map[ProtoVersion]*protoMap
	schemas map[string]map[DefVersion]Schema // message name -> defVersion -> schema
}

// NewMemoryRegistry returns an empty registry; use LoadBundle or AddMessage
// to populate it.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		protos:  make(map[ProtoVersion]*protoMap),
		schemas: make(map[string]map[DefVersion]Schema),
	}
}

func (r *MemoryRegistry) protoFor(pv ProtoVersion) *protoMap {
	pm, ok := r.protos[pv]
	if !ok {
		pm = newProtoMap()
		r.protos[pv] = pm
	}
	return pm
}

// AddMessage registers a message name/opcode binding under pv and one
// definition version's schema. Calling it again for an existing
// name/defVersion pair overwrites that version without touching sibling
// versions. Schemas are shared across every ProtoVersion that binds the
// name; only the opcode binding is per-ProtoVersion.
func (r *MemoryRegistry) AddMessage(pv ProtoVersion, s Schema) {
	pm := r.protoFor(pv)
	pm.nameToOpcode[s.Name] = s.Opcode
	pm.opcodeToName[s.Opcode] = s.Name
	if r.schemas[s.Name] == nil {
		r.schemas[s.Name] = make(map[DefVersion]Schema)
	}
	r.schemas[s.Name][s.DefVer] = s
}

// SetRevision records the revision string a bundle declared for pv.
func (r *MemoryRegistry) SetRevision(pv ProtoVersion, revision string) {
	r.protoFor(pv).revision = revision
}

func (r *MemoryRegistry) Revision(pv ProtoVersion) (string, bool) {
	pm, ok := r.protos[pv]
	if !ok {
		return "", false
	}
	return pm.revision, true
}

// FirstProtoVersion returns the lowest ProtoVersion registered. Used to
// parse the unauthenticated version-check handshake before any protocol
// version has been negotiated.
func (r *MemoryRegistry) FirstProtoVersion() (ProtoVersion, bool) {
	first, ok := ProtoVersion(0), false
	for pv := range r.protos {
		if !ok || pv < first {
			first = pv
			ok = true
		}
	}
	return first, ok
}

func (r *MemoryRegistry) ResolveOpcode(pv ProtoVersion, op uint16) (string, bool) {
	pm, ok := r.protos[pv]
	if !ok {
		return "", false
	}
	name, ok := pm.opcodeToName[op]
	return name, ok
}

func (r *MemoryRegistry) ResolveName(pv ProtoVersion, name string) (uint16, bool) {
	pm, ok := r.protos[pv]
	if !ok {
		return 0, false
	}
	op, ok := pm.nameToOpcode[name]
	return op, ok
}

func (r *MemoryRegistry) LatestDefVersion(name string) (DefVersion, bool) {
	versions, ok := r.schemas[name]
	if !ok || len(versions) == 0 {
		return 0, false
	}
	var latest DefVersion
	for v := range versions {
		if v > latest {
			latest = v
		}
	}
	return latest, true
}

func (r *MemoryRegistry) HasSchema(name string, v DefVersion) bool {
	versions, ok := r.schemas[name]
	if !ok {
		return false
	}
	_, ok = versions[v]
	return ok
}

func (r *MemoryRegistry) Parse(name string, v DefVersion, payload []byte) (Value, error) {
	schema, ok := r.schemaFor(name, v)
	if !ok {
		return nil, newErr(ErrUnknownDefinition, fmt.Sprintf("no schema for %s v%d", name, v), nil)
	}
	ev := &Event{Name: name, DefVer: v, fields: schema.Fields, values: make(map[string]any, len(schema.Fields))}
	off := 0
	for _, f := range schema.Fields {
		val, n, err := decodeField(f.Kind, payload[off:])
		if err != nil {
			return nil, newErr(ErrCodecFailure, fmt.Sprintf("decoding field %q of %s v%d", f.Name, name, v), err)
		}
		ev.values[f.Name] = val
		off += n
	}
	return ev, nil
}

func (r *MemoryRegistry) Write(name string, v DefVersion, val Value) ([]byte, error) {
	schema, ok := r.schemaFor(name, v)
	if !ok {
		return nil, newErr(ErrUnknownDefinition, fmt.Sprintf("no schema for %s v%d", name, v), nil)
	}
	ev, ok := val.(*Event)
	if !ok {
		return nil, newErr(ErrCodecFailure, fmt.Sprintf("value for %s v%d is not a codec.Event", name, v), nil)
	}
	var buf []byte
	for _, f := range schema.Fields {
		fv, ok := ev.values[f.Name]
		if !ok {
			return nil, newErr(ErrCodecFailure, fmt.Sprintf("missing field %q writing %s v%d", f.Name, name, v), nil)
		}
		enc, err := encodeField(f.Kind, fv)
		if err != nil {
			return nil, newErr(ErrCodecFailure, fmt.Sprintf("encoding field %q of %s v%d", f.Name, name, v), err)
		}
		buf = append(buf, enc...)
	}
	return buf, nil
}

func (r *MemoryRegistry) schemaFor(name string, v DefVersion) (Schema, bool) {
	versions, ok := r.schemas[name]
	if !ok {
		return Schema{}, false
	}
	s, ok := versions[v]
	return s, ok
}

func decodeField(kind FieldKind, b []byte) (any, int, error) {
	switch kind {
	case FieldUint8:
		if len(b) < 1 {
			return nil, 0, fmt.Errorf("short buffer for uint8")
		}
		return b[0], 1, nil
	case FieldInt8:
		if len(b) < 1 {
			return nil, 0, fmt.Errorf("short buffer for int8")
		}
		return int8(b[0]), 1, nil
	case FieldUint16:
		if len(b) < 2 {
			return nil, 0, fmt.Errorf("short buffer for uint16")
		}
		return binary.LittleEndian.Uint16(b), 2, nil
	case FieldInt16:
		if len(b) < 2 {
			return nil, 0, fmt.Errorf("short buffer for int16")
		}
		return int16(binary.LittleEndian.Uint16(b)), 2, nil
	case FieldUint32:
		if len(b) < 4 {
			return nil, 0, fmt.Errorf("short buffer for uint32")
		}
		return binary.LittleEndian.Uint32(b), 4, nil
	case FieldInt32:
		if len(b) < 4 {
			return nil, 0, fmt.Errorf("short buffer for int32")
		}
		return int32(binary.LittleEndian.Uint32(b)), 4, nil
	case FieldUint64:
		if len(b) < 8 {
			return nil, 0, fmt.Errorf("short buffer for uint64")
		}
		return binary.LittleEndian.Uint64(b), 8, nil
	case FieldInt64:
		if len(b) < 8 {
			return nil, 0, fmt.Errorf("short buffer for int64")
		}
		return int64(binary.LittleEndian.Uint64(b)), 8, nil
	case FieldFloat32:
		if len(b) < 4 {
			return nil, 0, fmt.Errorf("short buffer for float32")
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b)), 4, nil
	case FieldFloat64:
		if len(b) < 8 {
			return nil, 0, fmt.Errorf("short buffer for float64")
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), 8, nil
	case FieldString:
		if len(b) < 2 {
			return nil, 0, fmt.Errorf("short buffer for string length")
		}
		n := int(binary.LittleEndian.Uint16(b))
		if len(b) < 2+n {
			return nil, 0, fmt.Errorf("short buffer for string body")
		}
		return string(b[2 : 2+n]), 2 + n, nil
	case FieldBytes:
		if len(b) < 2 {
			return nil, 0, fmt.Errorf("short buffer for bytes length")
		}
		n := int(binary.LittleEndian.Uint16(b))
		if len(b) < 2+n {
			return nil, 0, fmt.Errorf("short buffer for bytes body")
		}
		out := make([]byte, n)
		copy(out, b[2:2+n])
		return out, 2 + n, nil
	default:
		return nil, 0, fmt.Errorf("unknown field kind %d", kind)
	}
}

func encodeField(kind FieldKind, v any) ([]byte, error) {
	switch kind {
	case FieldUint8:
		n, ok := toUint64(v)
		if !ok {
			return nil, fmt.Errorf("expected uint8-compatible value, got %T", v)
		}
		return []byte{byte(n)}, nil
	case FieldInt8:
		n, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("expected int8-compatible value, got %T", v)
		}
		return []byte{byte(int8(n))}, nil
	case FieldUint16:
		n, ok := toUint64(v)
		if !ok {
			return nil, fmt.Errorf("expected uint16-compatible value, got %T", v)
		}
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, uint16(n))
		return out, nil
	case FieldInt16:
		n, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("expected int16-compatible value, got %T", v)
		}
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, uint16(int16(n)))
		return out, nil
	case FieldUint32:
		n, ok := toUint64(v)
		if !ok {
			return nil, fmt.Errorf("expected uint32-compatible value, got %T", v)
		}
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(n))
		return out, nil
	case FieldInt32:
		n, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("expected int32-compatible value, got %T", v)
		}
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(int32(n)))
		return out, nil
	case FieldUint64:
		n, ok := toUint64(v)
		if !ok {
			return nil, fmt.Errorf("expected uint64-compatible value, got %T", v)
		}
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, n)
		return out, nil
	case FieldInt64:
		n, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("expected int64-compatible value, got %T", v)
		}
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, uint64(n))
		return out, nil
	case FieldFloat32:
		f, ok := v.(float32)
		if !ok {
			return nil, fmt.Errorf("expected float32, got %T", v)
		}
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, math.Float32bits(f))
		return out, nil
	case FieldFloat64:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("expected float64, got %T", v)
		}
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, math.Float64bits(f))
		return out, nil
	case FieldString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		out := make([]byte, 2+len(s))
		binary.LittleEndian.PutUint16(out, uint16(len(s)))
		copy(out[2:], s)
		return out, nil
	case FieldBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("expected []byte, got %T", v)
		}
		out := make([]byte, 2+len(b))
		binary.LittleEndian.PutUint16(out, uint16(len(b)))
		copy(out[2:], b)
		return out, nil
	default:
		return nil, fmt.Errorf("unknown field kind %d", kind)
	}
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case int:
		return uint64(n), true
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}
