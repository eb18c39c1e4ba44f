package transport

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/skycoin/skyevent/pkg/eventlog"
	"github.com/skycoin/skyevent/pkg/netevent"
	"github.com/skycoin/skyevent/pkg/rpc"
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

type counter interface {
	Count(c *netevent.Conn, n uint64) error
}

type notes interface {
	Note(c *netevent.Conn, s string) error
}

var countMethod = &rpc.Method{
	Name:      "Count",
	Params:    []rpc.Param{rpc.Uint(16)},
	Guarantee: netevent.GuaranteedOrdered,
	Direction: netevent.DirPeerToHost,
	Handle: func(c *netevent.Conn, args []interface{}) error {
		h, ok := c.Handler().(counter)
		if !ok {
			return rpc.ErrNoCapability
		}
		return h.Count(c, args[0].(uint64))
	},
}

var noteMethod = &rpc.Method{
	Name:      "Note",
	Params:    []rpc.Param{rpc.String(64)},
	Guarantee: netevent.Guaranteed,
	Direction: netevent.DirAny,
	Handle: func(c *netevent.Conn, args []interface{}) error {
		h, ok := c.Handler().(notes)
		if !ok {
			return rpc.ErrNoCapability
		}
		return h.Note(c, args[0].(string))
	},
}

type sink struct {
	mu     sync.Mutex
	counts []uint64
	notes  map[string]int
}

func newSink() *sink { return &sink{notes: make(map[string]int)} }

func (s *sink) Count(_ *netevent.Conn, n uint64) error {
	s.mu.Lock()
	s.counts = append(s.counts, n)
	s.mu.Unlock()
	return nil
}

func (s *sink) Note(_ *netevent.Conn, n string) error {
	s.mu.Lock()
	s.notes[n]++
	s.mu.Unlock()
	return nil
}

func (s *sink) snapshot() ([]uint64, map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	notes := make(map[string]int, len(s.notes))
	for k, v := range s.notes {
		notes[k] = v
	}
	return append([]uint64(nil), s.counts...), notes
}

// lossyConn drops outgoing data packets for which drop returns true.
type lossyConn struct {
	net.PacketConn
	mu   sync.Mutex
	n    int
	drop func(i int) bool
}

func (c *lossyConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	if len(p) > 0 && PacketType(p[0]) == DataType {
		c.mu.Lock()
		c.n++
		skip := c.drop(c.n)
		c.mu.Unlock()
		if skip {
			return len(p), nil
		}
	}
	return c.PacketConn.WriteTo(p, addr)
}

func testRegistry(t *testing.T, methods ...*rpc.Method) *netevent.Registry {
	if len(methods) == 0 {
		methods = []*rpc.Method{countMethod, noteMethod}
	}
	reg, err := netevent.NewRegistry(rpc.Classes(methods...), nil)
	require.NoError(t, err)
	return reg
}

func newTestEndpoint(t *testing.T, cfg Config, drop func(i int) bool) *Endpoint {
	pc, err := nettest.NewLocalPacketListener("udp")
	require.NoError(t, err)
	if drop != nil {
		pc = &lossyConn{PacketConn: pc, drop: drop}
	}
	if cfg.Registry == nil {
		cfg.Registry = testRegistry(t)
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 5 * time.Millisecond
	}
	return NewEndpoint(pc, cfg)
}

func dial(t *testing.T, from, to *Endpoint, handler interface{}) (*Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return from.Dial(ctx, to.Addr(), handler)
}

func TestEndpoint_DeliversUnderLoss(t *testing.T) {
	s := newSink()
	logs := eventlog.InMemoryLogStore()
	host := newTestEndpoint(t, Config{
		Listen:     true,
		NewHandler: func(net.Addr) interface{} { return s },
		LogStore:   logs,
	}, func(i int) bool { return i%4 == 0 })
	defer func() { require.NoError(t, host.Close()) }()

	peer := newTestEndpoint(t, Config{SeqBits: 5}, func(i int) bool { return i%3 == 0 })
	defer func() { require.NoError(t, peer.Close()) }()

	c, err := dial(t, peer, host, nil)
	require.NoError(t, err)
	hc, err := host.Accept()
	require.NoError(t, err)
	assert.Equal(t, netevent.RoleHost, hc.Role())
	assert.Equal(t, netevent.RolePeer, c.Role())

	const total = 200
	want := make([]uint64, total)
	for i := range want {
		want[i] = uint64(i)
		require.NoError(t, countMethod.Call(c, uint64(i)))
		if i%10 == 0 {
			require.NoError(t, noteMethod.Call(c, "tick"))
		}
	}

	assert.Eventually(t, func() bool {
		counts, _ := s.snapshot()
		return len(counts) == total
	}, 10*time.Second, 10*time.Millisecond)

	counts, notes := s.snapshot()
	assert.Equal(t, want, counts)
	assert.Equal(t, map[string]int{"tick": total / 10}, notes)
	assert.Eventually(t, func() bool { return c.Stats().Pending == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.NotZero(t, c.Stats().Retransmitted)

	require.NoError(t, c.Close())
	select {
	case <-hc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("host side did not observe close")
	}
	assert.Equal(t, ErrRemoteClosed, errors.Cause(hc.Err()))

	entry, err := logs.Entry(hc.ID())
	require.NoError(t, err)
	assert.Equal(t, "host", entry.Role)
	assert.Equal(t, uint64(total+total/10), entry.Stats.Dispatched)
}

func TestEndpoint_Negotiation(t *testing.T) {
	all, bounds := netevent.Versions(rpc.Classes(countMethod), rpc.Classes(noteMethod))
	hostReg, err := netevent.NewRegistry(all, bounds)
	require.NoError(t, err)

	host := newTestEndpoint(t, Config{Listen: true, Registry: hostReg}, nil)
	defer func() { require.NoError(t, host.Close()) }()

	t.Run("Older peer", func(t *testing.T) {
		peer := newTestEndpoint(t, Config{Registry: testRegistry(t, countMethod)}, nil)
		defer func() { require.NoError(t, peer.Close()) }()

		c, err := dial(t, peer, host, nil)
		require.NoError(t, err)
		hc, err := host.Accept()
		require.NoError(t, err)

		err = hc.Do(func(ev *netevent.Conn) error {
			assert.Equal(t, uint32(1), ev.ClassCount())
			return nil
		})
		require.NoError(t, err)

		// Note lies past the negotiated table.
		assert.Equal(t, netevent.ErrUnknownClass, errors.Cause(noteMethod.Call(hc, "hi")))
		require.NoError(t, c.Close())
	})

	t.Run("Fractional version", func(t *testing.T) {
		odd := &rpc.Method{Name: "Odd", Guarantee: netevent.Unguaranteed}
		peerReg, err := netevent.NewRegistry(rpc.Classes(countMethod, noteMethod, odd), nil)
		require.NoError(t, err)
		rejecting := newTestEndpoint(t, Config{Listen: true, Registry: peerReg}, nil)
		defer func() { require.NoError(t, rejecting.Close()) }()

		// The three-class endpoint cannot be cut at two classes.
		_, err = dial(t, host, rejecting, nil)
		assert.Equal(t, ErrRejected, errors.Cause(err))
	})
}

func TestEndpoint_NotListening(t *testing.T) {
	a := newTestEndpoint(t, Config{}, nil)
	defer func() { require.NoError(t, a.Close()) }()
	b := newTestEndpoint(t, Config{}, nil)
	defer func() { require.NoError(t, b.Close()) }()

	_, err := dial(t, a, b, nil)
	assert.Equal(t, ErrRejected, errors.Cause(err))
	assert.Empty(t, a.Conns())
}

func TestEndpoint_IdleTimeout(t *testing.T) {
	host := newTestEndpoint(t, Config{Listen: true, IdleTimeout: 200 * time.Millisecond}, nil)
	defer func() { require.NoError(t, host.Close()) }()

	// The peer never sends on its own, so the host hears nothing after the handshake.
	peer := newTestEndpoint(t, Config{KeepaliveInterval: time.Hour}, nil)
	defer func() { require.NoError(t, peer.Close()) }()

	_, err := dial(t, peer, host, nil)
	require.NoError(t, err)
	hc, err := host.Accept()
	require.NoError(t, err)

	select {
	case <-hc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not time out")
	}
	assert.Equal(t, ErrIdleTimeout, hc.Err())
}

func TestEndpoint_ViolationClosesBothSides(t *testing.T) {
	host := newTestEndpoint(t, Config{Listen: true}, nil)
	defer func() { require.NoError(t, host.Close()) }()
	peer := newTestEndpoint(t, Config{}, nil)
	defer func() { require.NoError(t, peer.Close()) }()

	c, err := dial(t, peer, host, nil)
	require.NoError(t, err)
	hc, err := host.Accept()
	require.NoError(t, err)

	// The host has no Count capability.
	require.NoError(t, countMethod.Call(c, uint64(1)))

	for _, conn := range []*Conn{hc, c} {
		select {
		case <-conn.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("connection was not terminated")
		}
	}
	assert.True(t, netevent.IsProtocolViolation(hc.Err()))
	assert.Equal(t, ErrRemoteClosed, errors.Cause(c.Err()))
}

func TestListen_PacketSize(t *testing.T) {
	_, err := Listen("127.0.0.1:0", Config{Registry: testRegistry(t), PacketSize: 1})
	assert.Equal(t, ErrPacketSize, err)
}

func TestEndpoint_EventLimitFollowsPacketSize(t *testing.T) {
	s := newSink()
	host := newTestEndpoint(t, Config{
		Listen:     true,
		PacketSize: 32,
		NewHandler: func(net.Addr) interface{} { return s },
	}, nil)
	defer func() { require.NoError(t, host.Close()) }()
	peer := newTestEndpoint(t, Config{PacketSize: 32}, nil)
	defer func() { require.NoError(t, peer.Close()) }()

	c, err := dial(t, peer, host, nil)
	require.NoError(t, err)
	_, err = host.Accept()
	require.NoError(t, err)

	// 256 bits minus framing leaves no room for a 40 byte note.
	err = noteMethod.Call(c, strings.Repeat("x", 40))
	assert.Equal(t, netevent.ErrEventTooLarge, errors.Cause(err))

	short := strings.Repeat("y", 20)
	require.NoError(t, noteMethod.Call(c, short))
	for i := 0; i < 5; i++ {
		require.NoError(t, countMethod.Call(c, uint64(i)))
	}

	assert.Eventually(t, func() bool {
		counts, notes := s.snapshot()
		return len(counts) == 5 && notes[short] == 1
	}, 5*time.Second, 10*time.Millisecond)
	counts, _ := s.snapshot()
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, counts)
	assert.Eventually(t, func() bool { return c.Stats().Pending == 0 }, 5*time.Second, 10*time.Millisecond)
}
