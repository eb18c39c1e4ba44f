package netevent

import (
	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skyevent/pkg/bitstream"
	"github.com/skycoin/skyevent/pkg/seq"
)

var log = logging.MustGetLogger("netevent")

// Size limits of a packed event payload, in bits.
const (
	DefaultMaxEventBits      = 1024 * 8
	DefaultMaxLargeEventBits = 48 * 1024 * 8
)

// Config configures a Conn.
type Config struct {
	Role     Role
	Registry *Registry

	// SeqBits is the wire width of ordered sequence numbers.
	SeqBits uint8

	// MaxPending bounds the number of undelivered outgoing events; 0 is unlimited.
	MaxPending int

	MaxEventBits      int
	MaxLargeEventBits int

	// Handler is the application object RPC calls are dispatched to.
	Handler interface{}

	Recorder Recorder

	// OnClose is called once with the reason the connection terminated.
	OnClose func(reason error)
}

func (c *Config) defaults() {
	if c.SeqBits == 0 {
		c.SeqBits = seq.DefaultBits
	}
	if c.MaxEventBits == 0 {
		c.MaxEventBits = DefaultMaxEventBits
	}
	if c.MaxLargeEventBits == 0 {
		c.MaxLargeEventBits = DefaultMaxLargeEventBits
	}
	if c.Recorder == nil {
		c.Recorder = nopRecorder{}
	}
}

// heldEvent is an ordered event waiting for its predecessors.
type heldEvent struct {
	seq uint32
	ev  Event
}

// Less implements btree.Item. Held sequences always lie within one window,
// so the signed difference orders them across wraparound.
func (h heldEvent) Less(than btree.Item) bool {
	return int32(h.seq-than.(heldEvent).seq) < 0
}

// Conn manages the events of one connection. It is not safe for concurrent
// use; callers serialise access externally.
type Conn struct {
	id     uuid.UUID
	cfg    Config
	logger logrus.FieldLogger

	arena     arena
	unordered queue
	ordered   queue

	win      seq.Window
	send     *seq.Allocator
	recvNext uint32
	held     *btree.BTree

	classCount  uint32
	classBits   uint8
	established bool

	closed   bool
	closeErr error

	stats   Stats
	scratch *bitstream.Writer
}

// NewConn creates a connection endpoint. It accepts events only after class
// negotiation (AcceptClassCount or ConfirmClassCount).
func NewConn(cfg Config) (*Conn, error) {
	if cfg.Registry == nil {
		return nil, errors.Wrap(ErrInvalidRegistry, "nil registry")
	}
	if cfg.Role != RoleHost && cfg.Role != RolePeer {
		return nil, errors.Errorf("invalid role %s", cfg.Role)
	}
	cfg.defaults()
	if cfg.SeqBits < 3 || cfg.SeqBits > 31 {
		return nil, errors.Errorf("sequence width %d out of range [3, 31]", cfg.SeqBits)
	}

	id := uuid.New()
	win := seq.Window{Bits: cfg.SeqBits}
	return &Conn{
		id:        id,
		cfg:       cfg,
		logger:    log.WithField("conn", id).WithField("role", cfg.Role),
		unordered: newQueue(),
		ordered:   newQueue(),
		win:       win,
		send:      seq.NewAllocator(win, 0),
		held:      btree.New(2),
		scratch:   bitstream.NewWriter(),
	}, nil
}

// ID returns the connection id.
func (c *Conn) ID() uuid.UUID { return c.id }

// Role returns the local role.
func (c *Conn) Role() Role { return c.cfg.Role }

// Handler returns the application object RPC calls are dispatched to.
func (c *Conn) Handler() interface{} { return c.cfg.Handler }

// Registry returns the class table.
func (c *Conn) Registry() *Registry { return c.cfg.Registry }

// LocalClassCount is the class count this endpoint advertises.
func (c *Conn) LocalClassCount() uint32 { return c.cfg.Registry.Count() }

// ClassCount returns the negotiated class count, or 0 before negotiation.
func (c *Conn) ClassCount() uint32 { return c.classCount }

// AcceptClassCount negotiates the class table on the accepting side and
// returns the count to send back to the initiator.
func (c *Conn) AcceptClassCount(remote uint32) (uint32, error) {
	n, err := c.cfg.Registry.Negotiate(remote)
	if err != nil {
		return 0, err
	}
	c.establish(n)
	return n, nil
}

// ConfirmClassCount validates the count chosen by the acceptor on the
// initiating side.
func (c *Conn) ConfirmClassCount(n uint32) error {
	if err := c.cfg.Registry.Validate(n); err != nil {
		return err
	}
	c.establish(n)
	return nil
}

func (c *Conn) establish(n uint32) {
	c.classCount = n
	c.classBits = ClassBits(n)
	c.established = true
	c.logger.WithField("classes", n).Debug("Class table negotiated.")
}

// CanPost reports whether the connection accepts outgoing events.
func (c *Conn) CanPost() bool { return c.established && !c.closed }

// HasPendingData reports whether any event waits to be written.
func (c *Conn) HasPendingData() bool {
	if c.closed {
		return false
	}
	if !c.unordered.empty() {
		return true
	}
	return !c.ordered.empty() && c.send.CanSend(c.arena.at(c.ordered.head).seq)
}

// Closed reports whether the connection terminated.
func (c *Conn) Closed() bool { return c.closed }

// Err returns the termination reason, if any.
func (c *Conn) Err() error { return c.closeErr }

// LastAcked returns the highest ordered sequence the peer acknowledged.
func (c *Conn) LastAcked() uint32 { return c.send.LastAcked() }

// NextSendSeq returns the sequence the next ordered event will receive.
func (c *Conn) NextSendSeq() uint32 { return c.send.Peek() }

// NextRecvSeq returns the next ordered sequence required for dispatch.
func (c *Conn) NextRecvSeq() uint32 { return c.recvNext }

// Stats returns a snapshot of the connection's counters.
func (c *Conn) Stats() Stats {
	s := c.stats
	s.Pending = c.arena.live
	s.Held = c.held.Len()
	return s
}

// Post queues ev for transmission.
func (c *Conn) Post(ev Event) error {
	if c.closed {
		return ErrConnClosed
	}
	if !c.established {
		return ErrNotEstablished
	}
	class, ok := c.cfg.Registry.ID(ev.ClassName())
	if !ok || class >= c.classCount {
		return errors.Wrapf(ErrUnknownClass, "class %q", ev.ClassName())
	}
	if !ev.Direction().SendableBy(c.cfg.Role) {
		return errors.Wrapf(ErrWrongDirection, "%s event from %s", ev.Direction(), c.cfg.Role)
	}
	if c.cfg.MaxPending > 0 && c.arena.live >= c.cfg.MaxPending {
		return ErrQueueFull
	}

	limit := c.cfg.MaxEventBits
	if ev.Guarantee() == GuaranteedOrderedLarge {
		limit = c.cfg.MaxLargeEventBits
	}
	c.scratch.Reset()
	if err := ev.Pack(c.scratch); err != nil {
		return errors.Wrapf(err, "pack %s", ev.ClassName())
	}
	if c.scratch.Len() > limit {
		return errors.Wrapf(ErrEventTooLarge, "%s is %d bits, limit %d", ev.ClassName(), c.scratch.Len(), limit)
	}

	if q, ok := ev.(Queuer); ok {
		q.OnQueued(c)
		if c.closed {
			return ErrConnClosed
		}
		// The hook may have posted events of its own.
		if c.cfg.MaxPending > 0 && c.arena.live >= c.cfg.MaxPending {
			return ErrQueueFull
		}
	}

	s := c.arena.alloc(ev, class)
	if ev.Guarantee().IsOrdered() {
		c.arena.at(s).seq = c.send.Next()
		c.ordered.pushBack(&c.arena, s)
	} else {
		c.unordered.pushBack(&c.arena, s)
	}
	c.stats.Posted++
	c.cfg.Recorder.Posted(ev.Guarantee())
	return nil
}

// FrameBits returns the most bits WritePacket adds around an event that
// travels alone in a packet: both section terminators, the presence and
// consecutive flags, the sequence and the class id. A zero seqBits selects
// seq.DefaultBits.
func FrameBits(seqBits uint8, classCount uint32) int {
	if seqBits == 0 {
		seqBits = seq.DefaultBits
	}
	return 4 + int(seqBits) + int(ClassBits(classCount))
}

// pack renders class id and payload of the entry at s into the scratch writer.
func (c *Conn) pack(s slot) (*bitstream.Writer, error) {
	e := c.arena.at(s)
	c.scratch.Reset()
	if err := c.scratch.WriteBits(uint64(e.class), c.classBits); err != nil {
		return nil, err
	}
	if err := e.ev.Pack(c.scratch); err != nil {
		return nil, errors.Wrapf(err, "pack %s", e.ev.ClassName())
	}
	return c.scratch, nil
}

// WritePacket drains queued events into w without exceeding budget bits and
// returns the record to hand back through PacketAcked or PacketLost.
func (c *Conn) WritePacket(w *bitstream.Writer, budget int) (*PacketNotify, error) {
	if c.closed {
		return nil, ErrConnClosed
	}
	if !c.established {
		return nil, ErrNotEstablished
	}

	n := getNotify(c)
	start := w.Len()
	used := func() int { return w.Len() - start }

	// Two terminator bits stay reserved while filling the unordered section.
	for !c.unordered.empty() {
		s := c.unordered.head
		body, err := c.pack(s)
		if err != nil {
			n.release()
			return nil, c.fail(err)
		}
		if used()+1+body.Len()+2 > budget {
			break
		}
		if err := c.writeUnordered(w, body); err != nil {
			n.release()
			return nil, err
		}
		c.unordered.popFront(&c.arena)
		n.rec.slots = append(n.rec.slots, s)
		c.markSent(s)
	}
	if err := w.WriteBool(false); err != nil {
		n.release()
		return nil, err
	}

	var (
		prev    uint32
		hasPrev bool
	)
	for !c.ordered.empty() {
		s := c.ordered.head
		e := c.arena.at(s)
		sq, g := e.seq, e.ev.Guarantee()
		if !c.send.CanSend(sq) {
			break
		}
		body, err := c.pack(s)
		if err != nil {
			n.release()
			return nil, c.fail(err)
		}
		consecutive := hasPrev && sq == prev+1
		seqBits := 1
		if !consecutive {
			seqBits += int(c.win.Bits)
		}
		if used()+1+seqBits+body.Len()+1 > budget {
			if g != GuaranteedOrderedLarge || len(n.rec.slots) != 0 {
				break
			}
		}
		if err := c.writeOrdered(w, body, sq, consecutive); err != nil {
			n.release()
			return nil, err
		}
		c.ordered.popFront(&c.arena)
		n.rec.slots = append(n.rec.slots, s)
		prev, hasPrev = sq, true
		c.markSent(s)
	}
	if err := w.WriteBool(false); err != nil {
		n.release()
		return nil, err
	}
	return n, nil
}

func (c *Conn) writeUnordered(w *bitstream.Writer, body *bitstream.Writer) error {
	if err := w.WriteBool(true); err != nil {
		return err
	}
	return w.WriteStream(body)
}

func (c *Conn) writeOrdered(w *bitstream.Writer, body *bitstream.Writer, sq uint32, consecutive bool) error {
	if err := w.WriteBool(true); err != nil {
		return err
	}
	if err := w.WriteBool(consecutive); err != nil {
		return err
	}
	if !consecutive {
		if err := w.WriteBits(uint64(c.win.Wrap(sq)), c.win.Bits); err != nil {
			return err
		}
	}
	return w.WriteStream(body)
}

// markSent updates counters for an entry just written and runs OnSent the
// first time. The entry pointer is not used after the hook, which may post.
func (c *Conn) markSent(s slot) {
	e := c.arena.at(s)
	ev, g := e.ev, e.ev.Guarantee()
	retransmit := e.sent
	e.sent = true

	c.stats.Sent++
	if retransmit {
		c.stats.Retransmitted++
	}
	c.cfg.Recorder.Sent(g, retransmit)
	if retransmit {
		return
	}
	if h, ok := ev.(Sender); ok {
		h.OnSent(c)
	}
}

func (c *Conn) consume(n *PacketNotify) error {
	if n == nil {
		return nil
	}
	if n.rec == nil {
		return ErrForeignNotify
	}
	if !n.live() {
		return ErrNotifyConsumed
	}
	if n.rec.owner != c {
		return ErrForeignNotify
	}
	return nil
}

// PacketAcked reports that the packet described by n reached the peer.
func (c *Conn) PacketAcked(n *PacketNotify) error {
	if err := c.consume(n); err != nil || n == nil {
		return err
	}
	defer n.release()
	if c.closed {
		return nil
	}

	for _, s := range n.rec.slots {
		e := c.arena.at(s)
		ev, g, sq := e.ev, e.ev.Guarantee(), e.seq
		c.arena.release(s)
		if g.IsOrdered() {
			c.send.Ack(sq)
		}
		c.stats.Acked++
		c.cfg.Recorder.Acked(g)
		if h, ok := ev.(OutcomeNotifier); ok {
			h.OnOutcome(c, true)
		}
	}
	return nil
}

// PacketLost reports that the packet described by n will never arrive.
// Guaranteed events are queued again ahead of newer traffic.
func (c *Conn) PacketLost(n *PacketNotify) error {
	if err := c.consume(n); err != nil || n == nil {
		return err
	}
	defer n.release()
	if c.closed {
		return nil
	}

	// Walk backwards so that pushing to the front keeps record order.
	for i := len(n.rec.slots) - 1; i >= 0; i-- {
		s := n.rec.slots[i]
		e := c.arena.at(s)
		g := e.ev.Guarantee()
		c.stats.Lost++
		c.cfg.Recorder.Lost(g)

		switch {
		case g.IsOrdered():
			sq := e.seq
			c.ordered.insertBefore(&c.arena, s, func(o *entry) bool {
				return int32(sq-o.seq) < 0
			})
		case g == Guaranteed:
			c.unordered.pushFront(&c.arena, s)
		default:
			ev := e.ev
			c.arena.release(s)
			if h, ok := ev.(OutcomeNotifier); ok {
				h.OnOutcome(c, false)
			}
		}
	}
	return nil
}

// ReadPacket reads both event sections written by the peer's WritePacket and
// dispatches what may run. Any error terminates the connection.
func (c *Conn) ReadPacket(r *bitstream.Reader) error {
	if c.closed {
		return ErrConnClosed
	}
	if !c.established {
		return c.fail(violation("data before class negotiation"))
	}

	for {
		more, err := r.ReadBool()
		if err != nil {
			return c.fail(violation("unordered section: %v", err))
		}
		if !more {
			break
		}
		ev, err := c.readEvent(r)
		if err != nil {
			return c.fail(err)
		}
		if ev.Guarantee().IsOrdered() {
			return c.fail(violation("ordered class %s in unordered section", ev.ClassName()))
		}
		if err := c.dispatch(ev); err != nil {
			return err
		}
	}

	var (
		prev    uint32
		hasPrev bool
	)
	for {
		more, err := r.ReadBool()
		if err != nil {
			return c.fail(violation("ordered section: %v", err))
		}
		if !more {
			break
		}
		sq, err := c.readSeq(r, prev, hasPrev)
		if err != nil {
			return c.fail(err)
		}
		prev, hasPrev = sq, true

		ev, err := c.readEvent(r)
		if err != nil {
			return c.fail(err)
		}
		if !ev.Guarantee().IsOrdered() {
			return c.fail(violation("%s class %s in ordered section", ev.Guarantee(), ev.ClassName()))
		}
		if err := c.receiveOrdered(sq, ev); err != nil {
			return err
		}
	}

	if r.Remaining() >= 8 {
		return c.fail(violation("%d trailing bits", r.Remaining()))
	}
	return nil
}

func (c *Conn) readSeq(r *bitstream.Reader, prev uint32, hasPrev bool) (uint32, error) {
	consecutive, err := r.ReadBool()
	if err != nil {
		return 0, violation("sequence: %v", err)
	}
	var d int32
	if consecutive {
		if !hasPrev {
			return 0, violation("consecutive flag on first ordered event")
		}
		d = int32(prev + 1 - c.recvNext)
	} else {
		wire, err := r.ReadBits(c.win.Bits)
		if err != nil {
			return 0, violation("sequence: %v", err)
		}
		d = c.win.Diff(uint32(wire), c.win.Wrap(c.recvNext))
	}
	if !c.win.InRange(d) {
		return 0, violation("sequence %d away from expected %d", d, c.recvNext)
	}
	return c.recvNext + uint32(d), nil
}

func (c *Conn) readEvent(r *bitstream.Reader) (Event, error) {
	id, err := r.ReadBits(c.classBits)
	if err != nil {
		return nil, violation("class id: %v", err)
	}
	if uint32(id) >= c.classCount {
		return nil, violation("class id %d outside negotiated table of %d", id, c.classCount)
	}
	class, _ := c.cfg.Registry.Class(uint32(id))
	ev := class.New()
	if !ev.Direction().ReceivableBy(c.cfg.Role) {
		return nil, violation("%s event %s received by %s", ev.Direction(), class.Name, c.cfg.Role)
	}
	if err := ev.Unpack(r); err != nil {
		return nil, violation("unpack %s: %v", class.Name, err)
	}
	return ev, nil
}

func (c *Conn) receiveOrdered(sq uint32, ev Event) error {
	switch d := int32(sq - c.recvNext); {
	case d < 0:
		c.stats.Duplicates++
		return nil
	case d > 0:
		item := heldEvent{seq: sq, ev: ev}
		if c.held.Has(item) {
			c.stats.Duplicates++
			return nil
		}
		c.held.ReplaceOrInsert(item)
		return nil
	}

	if err := c.dispatch(ev); err != nil {
		return err
	}
	c.recvNext++
	for !c.closed {
		min := c.held.Min()
		if min == nil || min.(heldEvent).seq != c.recvNext {
			break
		}
		c.held.DeleteMin()
		if err := c.dispatch(min.(heldEvent).ev); err != nil {
			return err
		}
		c.recvNext++
	}
	return nil
}

func (c *Conn) dispatch(ev Event) error {
	if err := ev.Process(c); err != nil {
		return c.fail(violation("process %s: %v", ev.ClassName(), err))
	}
	if c.closed {
		return ErrConnClosed
	}
	c.stats.Dispatched++
	c.cfg.Recorder.Dispatched(ev.Guarantee())
	return nil
}

func (c *Conn) fail(err error) error {
	if IsProtocolViolation(err) {
		c.cfg.Recorder.Violation()
	}
	c.logger.WithError(err).Warn("Terminating connection.")
	c.Close(err)
	return err
}

// Close terminates the connection and releases every queued, in-flight and
// held event without dispatching it. Records still outstanding are ignored
// when they come back.
func (c *Conn) Close(reason error) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeErr = reason

	c.arena.reset()
	c.unordered = newQueue()
	c.ordered = newQueue()
	c.held.Clear(false)

	c.logger.WithField("reason", reason).Debug("Connection closed.")
	if c.cfg.OnClose != nil {
		c.cfg.OnClose(reason)
	}
}
