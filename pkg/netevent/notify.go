package netevent

import (
	"sync"
	"sync/atomic"
)

// notifyRecord is the pooled storage behind PacketNotify handles.
type notifyRecord struct {
	gen   uint64 // bumped on release; first field for 64-bit alignment
	owner *Conn
	slots []slot
}

// PacketNotify lists the events one outgoing packet carried. It is handed
// back to the connection exactly once, through PacketAcked or PacketLost.
// Any later call with the same handle fails with ErrNotifyConsumed, even
// after the underlying record was reused for another packet.
type PacketNotify struct {
	rec *notifyRecord
	gen uint64
}

var notifyPool = sync.Pool{
	New: func() interface{} { return &notifyRecord{slots: make([]slot, 0, 8)} },
}

func getNotify(c *Conn) *PacketNotify {
	r := notifyPool.Get().(*notifyRecord)
	r.owner = c
	return &PacketNotify{rec: r, gen: atomic.LoadUint64(&r.gen)}
}

// release invalidates every handle to the record and returns it to the pool.
func (n *PacketNotify) release() {
	r := n.rec
	r.owner = nil
	r.slots = r.slots[:0]
	atomic.AddUint64(&r.gen, 1)
	notifyPool.Put(r)
}

// live reports whether n still refers to an unconsumed record.
func (n *PacketNotify) live() bool {
	return n != nil && n.rec != nil && atomic.LoadUint64(&n.rec.gen) == n.gen
}

// Len returns the number of events the packet carried, or 0 once consumed.
func (n *PacketNotify) Len() int {
	if !n.live() {
		return 0
	}
	return len(n.rec.slots)
}

// Empty reports whether the packet carried no events.
func (n *PacketNotify) Empty() bool { return n.Len() == 0 }
