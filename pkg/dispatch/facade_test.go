package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/protoproxy/dispatch/pkg/codec"
	"github.com/protoproxy/dispatch/pkg/frame"
	"github.com/protoproxy/dispatch/pkg/sysmsg"
)

func TestParseRevisionGrammar(t *testing.T) {
	cases := []struct {
		in   string
		want Revision
	}{
		{"1", Revision{Major: 1}},
		{"1.2", Revision{Major: 1, Minor: 2, HasMinor: true}},
		{"EU-1.2", Revision{Region: "EU", Major: 1, Minor: 2, HasMinor: true}},
		{"EU-1.2/3", Revision{Region: "EU", Major: 1, Minor: 2, HasMinor: true, SysMsgVer: 3, HasSysMsg: true}},
		{"3/5", Revision{Major: 3, SysMsgVer: 5, HasSysMsg: true}},
	}
	for _, c := range cases {
		got, err := ParseRevision(c.in)
		require.NoError(t, err, c.in)
		require.Equal(t, c.want.Region, got.Region, c.in)
		require.Equal(t, c.want.Major, got.Major, c.in)
		require.Equal(t, c.want.Minor, got.Minor, c.in)
		require.Equal(t, c.want.HasMinor, got.HasMinor, c.in)
		require.Equal(t, c.want.SysMsgVer, got.SysMsgVer, c.in)
		require.Equal(t, c.want.HasSysMsg, got.HasSysMsg, c.in)
	}
}

func TestParseRevisionRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "abc", "1.2.3", "-1"} {
		_, err := ParseRevision(in)
		require.Error(t, err, in)
	}
}

func TestDispatchSetProtocolVersionAndReset(t *testing.T) {
	registry := chatRegistry()
	registry.SetRevision(42, "EU-1.2/3")
	d := NewDispatch(registry, sysmsg.NewTable())

	require.NoError(t, d.SetProtocolVersion(42))
	require.Equal(t, 1, d.ProtocolVersion().Major)

	d.Reset()
	require.Equal(t, 0, d.ProtocolVersion().Major)
}

func TestDispatchSetProtocolVersionZeroIsSilentNoOp(t *testing.T) {
	registry := chatRegistry()
	d := NewDispatch(registry, sysmsg.NewTable())

	require.NoError(t, d.SetProtocolVersion(0))
	require.Equal(t, 0, d.ProtocolVersion().Major)
}

func TestDispatchSetProtocolVersionUnknownToCodecStillRemembered(t *testing.T) {
	registry := chatRegistry()
	d := NewDispatch(registry, sysmsg.NewTable())

	require.NoError(t, d.SetProtocolVersion(999))
	op, ok := registry.ResolveName(d.protoVersion, "S_CHAT")
	require.False(t, ok, "protocol version 999 never registered any messages")
	_ = op
}

func TestDispatchWriteFakeFrameHiddenByDefaultFilter(t *testing.T) {
	registry := chatRegistry()
	d := NewDispatch(registry, sysmsg.NewTable())
	require.NoError(t, d.SetProtocolVersion(1))

	var defaultSawFake, explicitSawFake bool
	_, err := d.Hooks.Register(&Hook{
		Opcode:  200,
		Version: RawVersion(),
		Callback: func(ctx *HookContext) Outcome {
			defaultSawFake = true
			return Unchanged()
		},
	})
	require.NoError(t, err)

	_, err = d.Hooks.Register(&Hook{
		Opcode:  200,
		Version: RawVersion(),
		Filter:  Filter{Fake: True},
		Callback: func(ctx *HookContext) Outcome {
			explicitSawFake = ctx.Flags().Fake
			return Unchanged()
		},
	})
	require.NoError(t, err)

	ev := codec.NewEvent("S_CHAT", 1)
	ev.Set("text", "hello")
	out, _, err := d.Write(context.Background(), "S_CHAT", 1, ev, true)
	require.NoError(t, err)
	require.False(t, defaultSawFake, "a hook with no explicit Fake filter must default to False and never see a fake frame")
	require.True(t, explicitSawFake, "a hook that explicitly asks for Fake:True must see the fake frame")
	require.Equal(t, frame.Opcode(200), frame.ReadOpcode(out))
}

func TestDispatchSystemMessageRoundTrip(t *testing.T) {
	registry := chatRegistry()
	table := sysmsg.NewTable()
	table.Add("SYS_WHISPER", 10)
	d := NewDispatch(registry, table)

	raw, err := d.BuildSystemMessage("SYS_WHISPER", map[string]string{"from": "a"}, []string{"from"})
	require.NoError(t, err)

	name, fields, err := d.ParseSystemMessage(raw)
	require.NoError(t, err)
	require.Equal(t, "SYS_WHISPER", name)
	require.Equal(t, "a", fields["from"])
}
