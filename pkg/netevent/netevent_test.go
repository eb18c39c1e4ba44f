package netevent

import (
	"errors"
	"os"
	"testing"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skyevent/pkg/bitstream"
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

const failValue = 0xFFFFFFFF

// journal records what happened to the events of one endpoint.
type journal struct {
	dispatched []uint32
	sent       []uint32
	outcomes   map[uint32][]bool
}

func newJournal() *journal {
	return &journal{outcomes: make(map[uint32][]bool)}
}

type testEvent struct {
	class string
	g     Guarantee
	dir   Direction
	v     uint32
	blob  []byte
	j     *journal

	onQueued func(c *Conn)
}

func (e *testEvent) ClassName() string    { return e.class }
func (e *testEvent) Guarantee() Guarantee { return e.g }
func (e *testEvent) Direction() Direction { return e.dir }

func (e *testEvent) Pack(w *bitstream.Writer) error {
	if err := w.WriteBits(uint64(e.v), 32); err != nil {
		return err
	}
	return w.WriteBytes(e.blob, 8192)
}

func (e *testEvent) Unpack(r *bitstream.Reader) error {
	v, err := r.ReadBits(32)
	if err != nil {
		return err
	}
	e.v = uint32(v)
	e.blob, err = r.ReadBytes(8192)
	return err
}

func (e *testEvent) Process(*Conn) error {
	if e.v == failValue {
		return errors.New("process failed")
	}
	e.j.dispatched = append(e.j.dispatched, e.v)
	return nil
}

func (e *testEvent) OnQueued(c *Conn) {
	if e.onQueued != nil {
		e.onQueued(c)
	}
}

func (e *testEvent) OnSent(*Conn) {
	e.j.sent = append(e.j.sent, e.v)
}

func (e *testEvent) OnOutcome(_ *Conn, delivered bool) {
	e.j.outcomes[e.v] = append(e.j.outcomes[e.v], delivered)
}

var testClasses = []struct {
	name string
	g    Guarantee
	dir  Direction
}{
	{"unguaranteed", Unguaranteed, DirAny},
	{"guaranteed", Guaranteed, DirAny},
	{"ordered", GuaranteedOrdered, DirAny},
	{"large", GuaranteedOrderedLarge, DirAny},
	{"to_peer", GuaranteedOrdered, DirHostToPeer},
	{"report", Guaranteed, DirPeerToHost},
}

// testBoundaries cut the table after the first four classes.
var testBoundaries = []uint32{4, 6}

func testRegistry(t *testing.T, j *journal) *Registry {
	classes := make([]Class, len(testClasses))
	for i, tc := range testClasses {
		tc := tc
		classes[i] = Class{
			Name: tc.name,
			New: func() Event {
				return &testEvent{class: tc.name, g: tc.g, dir: tc.dir, j: j}
			},
		}
	}
	r, err := NewRegistry(classes, testBoundaries)
	require.NoError(t, err)
	return r
}

// pair is a host and a peer connection with a simulated link between them.
type pair struct {
	host, peer       *Conn
	hostJ, peerJ     *journal
	hostErr, peerErr []error
}

func newPair(t *testing.T, mod func(cfg *Config)) *pair {
	p := &pair{hostJ: newJournal(), peerJ: newJournal()}

	hostCfg := Config{
		Role:     RoleHost,
		Registry: testRegistry(t, p.hostJ),
		OnClose:  func(err error) { p.hostErr = append(p.hostErr, err) },
	}
	peerCfg := Config{
		Role:     RolePeer,
		Registry: testRegistry(t, p.peerJ),
		OnClose:  func(err error) { p.peerErr = append(p.peerErr, err) },
	}
	if mod != nil {
		mod(&hostCfg)
		mod(&peerCfg)
	}

	var err error
	p.host, err = NewConn(hostCfg)
	require.NoError(t, err)
	p.peer, err = NewConn(peerCfg)
	require.NoError(t, err)

	n, err := p.host.AcceptClassCount(p.peer.LocalClassCount())
	require.NoError(t, err)
	require.NoError(t, p.peer.ConfirmClassCount(n))
	return p
}

// event builds an outgoing event of the named class journaled on the sender.
func (p *pair) event(from *Conn, class string, v uint32) *testEvent {
	j := p.hostJ
	if from == p.peer {
		j = p.peerJ
	}
	for _, tc := range testClasses {
		if tc.name == class {
			return &testEvent{class: class, g: tc.g, dir: tc.dir, v: v, j: j}
		}
	}
	panic("unknown class " + class)
}

type packet struct {
	notify *PacketNotify
	data   []byte
	bits   int
}

func writePacket(t *testing.T, c *Conn, budget int) packet {
	w := bitstream.NewWriter()
	n, err := c.WritePacket(w, budget)
	require.NoError(t, err)
	return packet{notify: n, data: w.Bytes(), bits: w.Len()}
}

func readPacket(c *Conn, pkt packet) error {
	return c.ReadPacket(bitstream.NewReaderBits(pkt.data, pkt.bits))
}

const bigBudget = 1 << 16
