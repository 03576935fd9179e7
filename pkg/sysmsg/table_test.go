package sysmsg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTable() *Table {
	t := NewTable()
	t.Add("SYS_WHISPER", 105)
	t.Add("SYS_BROADCAST", 200)
	return t
}

func TestParseRoundTrip(t *testing.T) {
	tbl := newTestTable()

	name, fields, err := tbl.Parse("@105\vfrom\valice\vto\vbob")
	require.NoError(t, err)
	require.Equal(t, "SYS_WHISPER", name)
	require.Equal(t, map[string]string{"from": "alice", "to": "bob"}, fields)
}

func TestBuildRoundTrip(t *testing.T) {
	tbl := newTestTable()

	out, err := tbl.Build("SYS_WHISPER", map[string]string{"from": "alice", "to": "bob"}, []string{"from", "to"})
	require.NoError(t, err)
	require.Equal(t, "@105\vfrom\valice\vto\vbob", out)

	name, fields, err := tbl.Parse(out)
	require.NoError(t, err)
	require.Equal(t, "SYS_WHISPER", name)
	require.Equal(t, map[string]string{"from": "alice", "to": "bob"}, fields)
}

func TestParseUnknownID(t *testing.T) {
	tbl := newTestTable()
	_, _, err := tbl.Parse("@9999\vfoo\vbar")
	require.Error(t, err)
}

func TestParseMissingPrefix(t *testing.T) {
	tbl := newTestTable()
	_, _, err := tbl.Parse("105\vfoo\vbar")
	require.Error(t, err)
}

func TestParseOddFieldCount(t *testing.T) {
	tbl := newTestTable()
	_, _, err := tbl.Parse("@105\vfrom\valice\vto")
	require.Error(t, err)
}

func TestBuildUnknownName(t *testing.T) {
	tbl := newTestTable()
	_, err := tbl.Build("SYS_NOPE", nil, nil)
	require.Error(t, err)
}

func TestParseColonLiteralID(t *testing.T) {
	tbl := newTestTable()

	name, fields, err := tbl.Parse("@guild:invite\vfrom\valice")
	require.NoError(t, err)
	require.Equal(t, "guild:invite", name)
	require.Equal(t, map[string]string{"from": "alice"}, fields)
}

func TestBuildColonLiteralNamePassesThroughUnresolved(t *testing.T) {
	tbl := newTestTable()

	out, err := tbl.Build("guild:invite", map[string]string{"from": "alice"}, []string{"from"})
	require.NoError(t, err)
	require.Equal(t, "@guild:invite\vfrom\valice", out)
}
