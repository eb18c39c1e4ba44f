package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketType_String(t *testing.T) {
	cases := []struct {
		pt   PacketType
		want string
	}{
		{ConnectType, "CONNECT"},
		{DataType, "DATA"},
		{CloseType, "CLOSE"},
		{PacketType(0), "UNKNOWN:0"},
		{PacketType(0xff), "UNKNOWN:255"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.pt.String())
	}
}

func TestParsePacket(t *testing.T) {
	cases := []struct {
		name  string
		raw   []byte
		valid bool
	}{
		{"Connect", MakeConnect(7), true},
		{"Accept", MakeAccept(7), true},
		{"Reject", MakeReject("no"), true},
		{"Close without reason", MakeClose(""), true},
		{"Data", MakeData(1, 2, 3, []byte{0x80}), true},
		{"Empty", []byte{}, false},
		{"Short connect", []byte{byte(ConnectType), 0, 0}, false},
		{"Long accept", append(MakeAccept(1), 0), false},
		{"Short data", []byte{byte(DataType), 0, 1, 0, 2}, false},
		{"Unknown type", []byte{0x42, 0, 0, 0, 0}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePacket(tc.raw)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, ErrMalformedPacket, err)
			}
		})
	}
}

func TestPacket_Fields(t *testing.T) {
	p, err := ParsePacket(MakeData(0xFFFF, 12, 0xF0F0F0F0, []byte{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, DataType, p.Type())
	ack, mask := p.Ack()
	assert.EqualValues(t, 0xFFFF, p.Seq())
	assert.EqualValues(t, 12, ack)
	assert.Equal(t, uint32(0xF0F0F0F0), mask)
	assert.Equal(t, []byte{1, 2, 3}, p.Pay())
	assert.Equal(t, "<type:DATA><seq:65535><ack:12><mask:11110000111100001111000011110000><size:3>", p.String())

	p, err = ParsePacket(MakeAccept(42))
	require.NoError(t, err)
	assert.Equal(t, uint32(42), p.ClassCount())

	p, err = ParsePacket(MakeReject("version mismatch"))
	require.NoError(t, err)
	assert.Equal(t, "version mismatch", p.Reason())
}
