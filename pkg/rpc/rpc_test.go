package rpc

import (
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skyevent/pkg/bitstream"
	"github.com/skycoin/skyevent/pkg/netevent"
)

func TestMain(m *testing.M) {
	loggingLevel, ok := os.LookupEnv("TEST_LOGGING_LEVEL")
	if ok {
		lvl, err := logging.LevelFromString(loggingLevel)
		if err != nil {
			log.Fatal(err)
		}
		logging.SetLevel(lvl)
	} else {
		logging.Disable()
	}

	os.Exit(m.Run())
}

func TestParams_RoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		param Param
		in    interface{}
		want  interface{}
	}{
		{"Bool", Bool(), true, true},
		{"Uint", Uint(12), uint16(4095), uint64(4095)},
		{"Uint from int", Uint(8), 200, uint64(200)},
		{"Int negative", Int(6), int8(-32), int64(-32)},
		{"Int positive", Int(6), 31, int64(31)},
		{"Ranged", Ranged(100, 200), uint32(150), uint32(150)},
		{"Float", Float(8), float32(1), float32(1)},
		{"Float zero", Float(8), 0.0, float32(0)},
		{"Signed float", SignedFloat(8), float32(-1), float32(-1)},
		{"String", String(16), "hello", "hello"},
		{"Empty string", String(16), "", ""},
		{"Bytes", Bytes(4), []byte{1, 2, 3, 4}, []byte{1, 2, 3, 4}},
		{
			"List",
			List(Ranged(1, 6), 5),
			[]interface{}{uint32(1), uint32(6), uint32(3)},
			[]interface{}{uint32(1), uint32(6), uint32(3)},
		},
		{
			"Nested list",
			List(List(Bool(), 2), 2),
			[]interface{}{[]interface{}{true}, []interface{}{}},
			[]interface{}{[]interface{}{true}, []interface{}{}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := bitstream.NewWriter()
			require.NoError(t, tc.param.Write(w, tc.in))

			r := bitstream.NewReaderBits(w.Bytes(), w.Len())
			got, err := tc.param.Read(r)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, 0, r.Remaining())
		})
	}
}

var scoreMethod = &Method{
	Name:      "Score",
	Params:    []Param{String(8), Ranged(0, 100), List(Bool(), 3)},
	Guarantee: netevent.Guaranteed,
	Direction: netevent.DirAny,
}

func TestMethod_New(t *testing.T) {
	cases := []struct {
		name string
		args []interface{}
		err  bool
	}{
		{name: "Valid", args: []interface{}{"ann", uint32(99), []interface{}{true, false}}},
		{name: "Too few", args: []interface{}{"ann"}, err: true},
		{name: "Wrong type", args: []interface{}{1, uint32(99), []interface{}{}}, err: true},
		{name: "Out of range", args: []interface{}{"ann", uint32(101), []interface{}{}}, err: true},
		{name: "String too long", args: []interface{}{"annabelle", uint32(1), []interface{}{}}, err: true},
		{name: "List too long", args: []interface{}{"ann", uint32(1), []interface{}{true, true, true, true}}, err: true},
		{name: "Bad list element", args: []interface{}{"ann", uint32(1), []interface{}{"x"}}, err: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := scoreMethod.New(tc.args...)
			if tc.err {
				assert.Equal(t, ErrBadArgs, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Score", c.ClassName())
			assert.Equal(t, scoreMethod, c.Method())
		})
	}
}

// greeter is the capability the Greet call requires.
type greeter interface {
	Greet(c *netevent.Conn, name string, times uint64) error
}

type greetings struct {
	names []string
}

func (g *greetings) Greet(_ *netevent.Conn, name string, times uint64) error {
	for i := uint64(0); i < times; i++ {
		g.names = append(g.names, name)
	}
	return nil
}

var greetMethod = &Method{
	Name:      "Greet",
	Params:    []Param{String(32), Uint(4)},
	Guarantee: netevent.GuaranteedOrdered,
	Direction: netevent.DirPeerToHost,
	Handle: func(c *netevent.Conn, args []interface{}) error {
		h, ok := c.Handler().(greeter)
		if !ok {
			return ErrNoCapability
		}
		return h.Greet(c, args[0].(string), args[1].(uint64))
	},
}

func newConns(t *testing.T, hostHandler, peerHandler interface{}) (host, peer *netevent.Conn) {
	reg, err := netevent.NewRegistry(Classes(greetMethod, scoreMethod), nil)
	require.NoError(t, err)

	host, err = netevent.NewConn(netevent.Config{Role: netevent.RoleHost, Registry: reg, Handler: hostHandler})
	require.NoError(t, err)
	peer, err = netevent.NewConn(netevent.Config{Role: netevent.RolePeer, Registry: reg, Handler: peerHandler})
	require.NoError(t, err)

	n, err := host.AcceptClassCount(peer.LocalClassCount())
	require.NoError(t, err)
	require.NoError(t, peer.ConfirmClassCount(n))
	return host, peer
}

func transfer(t *testing.T, from, to *netevent.Conn) error {
	w := bitstream.NewWriter()
	n, err := from.WritePacket(w, 1<<12)
	require.NoError(t, err)
	require.NoError(t, from.PacketAcked(n))
	return to.ReadPacket(bitstream.NewReaderBits(w.Bytes(), w.Len()))
}

func TestMethod_Call(t *testing.T) {
	g := new(greetings)
	host, peer := newConns(t, g, nil)

	require.NoError(t, greetMethod.Call(peer, "ann", uint64(2)))
	require.NoError(t, greetMethod.Call(peer, "bob", uint64(1)))
	require.NoError(t, transfer(t, peer, host))
	assert.Equal(t, []string{"ann", "ann", "bob"}, g.names)

	assert.Equal(t, netevent.ErrWrongDirection, errors.Cause(greetMethod.Call(host, "eve", uint64(1))))
	assert.Equal(t, ErrBadArgs, errors.Cause(greetMethod.Call(peer, "eve")))
}

func TestMethod_CallWithoutConnection(t *testing.T) {
	assert.NoError(t, greetMethod.Call(nil, "ann", uint64(1)))

	_, peer := newConns(t, nil, nil)
	peer.Close(nil)
	assert.NoError(t, greetMethod.Call(peer, "ann", uint64(1)))
	assert.Equal(t, 0, peer.Stats().Pending)
}

func TestMethod_PeerToHostReceivedByPeer(t *testing.T) {
	g := new(greetings)
	_, peer := newConns(t, nil, g)

	var reason error
	loop, err := netevent.NewConn(netevent.Config{
		Role:     netevent.RolePeer,
		Registry: peer.Registry(),
		Handler:  g,
		OnClose:  func(err error) { reason = err },
	})
	require.NoError(t, err)
	require.NoError(t, loop.ConfirmClassCount(peer.LocalClassCount()))

	require.NoError(t, greetMethod.Call(peer, "ann", uint64(1)))
	err = transfer(t, peer, loop)
	assert.True(t, netevent.IsProtocolViolation(err))
	assert.Equal(t, err, reason)
	assert.True(t, loop.Closed())
	assert.Empty(t, g.names)
}

func TestMethod_NoCapability(t *testing.T) {
	host, peer := newConns(t, struct{}{}, nil)

	require.NoError(t, greetMethod.Call(peer, "ann", uint64(1)))
	err := transfer(t, peer, host)
	assert.True(t, netevent.IsProtocolViolation(err))
	assert.Contains(t, err.Error(), ErrNoCapability.Error())
	assert.True(t, host.Closed())
}
