package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRegistry() *MemoryRegistry {
	r := NewMemoryRegistry()
	r.AddMessage(1, Schema{
		Name:   "S_LOGIN",
		Opcode: 10100,
		DefVer: 1,
		Fields: []FieldSpec{
			{Name: "accountID", Kind: FieldUint32},
			{Name: "name", Kind: FieldString},
		},
	})
	r.AddMessage(1, Schema{
		Name:   "S_LOGIN",
		Opcode: 10100,
		DefVer: 2,
		Fields: []FieldSpec{
			{Name: "accountID", Kind: FieldUint32},
			{Name: "name", Kind: FieldString},
			{Name: "sessionFlags", Kind: FieldUint8},
		},
	})
	return r
}

func TestResolveOpcodeAndName(t *testing.T) {
	r := newTestRegistry()

	name, ok := r.ResolveOpcode(1, 10100)
	require.True(t, ok)
	require.Equal(t, "S_LOGIN", name)

	op, ok := r.ResolveName(1, "S_LOGIN")
	require.True(t, ok)
	require.Equal(t, uint16(10100), op)

	_, ok = r.ResolveOpcode(1, 99)
	require.False(t, ok)

	_, ok = r.ResolveOpcode(2, 10100)
	require.False(t, ok, "a proto version that never registered this opcode must not see it")
}

func TestSameNameDifferentOpcodeAcrossProtoVersions(t *testing.T) {
	r := NewMemoryRegistry()
	r.AddMessage(1, Schema{Name: "S_LOGIN", Opcode: 10100, DefVer: 1, Fields: []FieldSpec{{Name: "accountID", Kind: FieldUint32}}})
	r.AddMessage(2, Schema{Name: "S_LOGIN", Opcode: 20200, DefVer: 1, Fields: []FieldSpec{{Name: "accountID", Kind: FieldUint32}}})

	op, ok := r.ResolveName(1, "S_LOGIN")
	require.True(t, ok)
	require.Equal(t, uint16(10100), op)

	op, ok = r.ResolveName(2, "S_LOGIN")
	require.True(t, ok)
	require.Equal(t, uint16(20200), op)

	name, ok := r.ResolveOpcode(1, 20200)
	require.False(t, ok, "opcode 20200 is only bound under proto version 2")
	_ = name

	v, ok := r.LatestDefVersion("S_LOGIN")
	require.True(t, ok)
	require.Equal(t, DefVersion(1), v, "schemas are shared across proto versions, not duplicated per version")
}

func TestRevisionAndFirstProtoVersion(t *testing.T) {
	r := NewMemoryRegistry()
	r.AddMessage(5, Schema{Name: "S_LOGIN", Opcode: 1, DefVer: 1, Fields: nil})
	r.AddMessage(3, Schema{Name: "S_PING", Opcode: 2, DefVer: 1, Fields: nil})
	r.SetRevision(5, "EU-1.2")
	r.SetRevision(3, "NA-1.0")

	rev, ok := r.Revision(5)
	require.True(t, ok)
	require.Equal(t, "EU-1.2", rev)

	pv, ok := r.FirstProtoVersion()
	require.True(t, ok)
	require.Equal(t, ProtoVersion(3), pv)

	_, ok = r.Revision(99)
	require.False(t, ok)
}

func TestLatestDefVersion(t *testing.T) {
	r := newTestRegistry()
	v, ok := r.LatestDefVersion("S_LOGIN")
	require.True(t, ok)
	require.Equal(t, DefVersion(2), v)
}

func TestParseWriteRoundTrip(t *testing.T) {
	r := newTestRegistry()

	ev := &Event{Name: "S_LOGIN", DefVer: 2, values: map[string]any{
		"accountID":    uint32(42),
		"name":         "alice",
		"sessionFlags": uint8(3),
	}}

	payload, err := r.Write("S_LOGIN", 2, ev)
	require.NoError(t, err)

	parsed, err := r.Parse("S_LOGIN", 2, payload)
	require.NoError(t, err)

	pev := parsed.(*Event)
	v, _ := pev.Get("accountID")
	require.Equal(t, uint32(42), v)
	v, _ = pev.Get("name")
	require.Equal(t, "alice", v)
	v, _ = pev.Get("sessionFlags")
	require.Equal(t, uint8(3), v)
}

func TestParseUnknownDefVersion(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Parse("S_LOGIN", 99, []byte{0, 0, 0, 0})
	require.Error(t, err)

	var codecErr *Error
	require.ErrorAs(t, err, &codecErr)
	require.Equal(t, ErrUnknownDefinition, codecErr.Kind)
}

func TestCloneIsolatesBytesField(t *testing.T) {
	r := NewMemoryRegistry()
	r.AddMessage(1, Schema{
		Name:   "S_BLOB",
		Opcode: 1,
		DefVer: 1,
		Fields: []FieldSpec{{Name: "payload", Kind: FieldBytes}},
	})

	original := &Event{Name: "S_BLOB", DefVer: 1, values: map[string]any{"payload": []byte{1, 2, 3}}}
	cloned := original.Clone().(*Event)

	b, _ := cloned.Get("payload")
	bs := b.([]byte)
	bs[0] = 0xFF

	ov, _ := original.Get("payload")
	require.Equal(t, byte(1), ov.([]byte)[0], "mutating the clone must not affect the original")
}
