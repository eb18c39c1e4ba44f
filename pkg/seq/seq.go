// Package seq implements wraparound-aware sequence numbers for ordered events.
package seq

import (
	"encoding/binary"
)

// DefaultBits is the default width of a sequence number on the wire.
const DefaultBits = 10

// Window describes a sequence counter that is Bits wide on the wire.
// Comparisons treat a as later than b when (a-b) mod 2^Bits lies in the
// lower half of the counter space.
type Window struct {
	Bits uint8
}

// Size returns the number of distinct wire values.
func (w Window) Size() uint32 { return 1 << w.Bits }

// Mask returns the wire value mask.
func (w Window) Mask() uint32 { return w.Size() - 1 }

// Max returns how far ahead of the oldest unacknowledged sequence a sender
// may run. A quarter of the counter space keeps both duplicates and
// out-of-window values distinguishable on the receiving side.
func (w Window) Max() uint32 { return w.Size()/4 - 1 }

// InRange reports whether d, a distance produced by Diff relative to the next
// expected sequence, can be produced by a well-behaved sender.
func (w Window) InRange(d int32) bool {
	return d <= int32(w.Max()) && d >= -int32(w.Max())-1
}

// Wrap truncates a counter to its wire value.
func (w Window) Wrap(n uint32) uint32 { return n & w.Mask() }

// Diff returns the signed distance a-b, reduced modulo the counter width.
func (w Window) Diff(a, b uint32) int32 {
	d := (a - b) & w.Mask()
	if d >= w.Size()/2 {
		return int32(d) - int32(w.Size())
	}
	return int32(d)
}

// Less reports whether a comes before b.
func (w Window) Less(a, b uint32) bool { return w.Diff(a, b) < 0 }

// Expand reconstructs the full counter closest to ref whose wire value is wire.
func (w Window) Expand(wire, ref uint32) uint32 {
	return ref + uint32(w.Diff(wire, w.Wrap(ref)))
}

// Allocator hands out sequence numbers and tracks the peer's acknowledgements.
// Counters are kept as full uint32 values; only the wire is truncated.
type Allocator struct {
	win       Window
	next      uint32
	lastAcked uint32
	base      uint32 // oldest unacknowledged sequence
	acked     map[uint32]struct{}
}

// NewAllocator creates an Allocator whose first sequence is start.
func NewAllocator(win Window, start uint32) *Allocator {
	return &Allocator{
		win:       win,
		next:      start,
		lastAcked: start - 1,
		base:      start,
		acked:     make(map[uint32]struct{}),
	}
}

// Window returns the wire window.
func (a *Allocator) Window() Window { return a.win }

// Next assigns the next sequence number.
func (a *Allocator) Next() uint32 {
	s := a.next
	a.next++
	return s
}

// Peek returns the sequence number Next would assign.
func (a *Allocator) Peek() uint32 { return a.next }

// LastAcked returns the highest sequence the peer is known to have processed.
func (a *Allocator) LastAcked() uint32 { return a.lastAcked }

// Base returns the oldest sequence that is not yet acknowledged.
func (a *Allocator) Base() uint32 { return a.base }

// Ack records that the peer processed s. It reports whether the
// LastAcked watermark advanced; the watermark never moves backwards.
func (a *Allocator) Ack(s uint32) bool {
	if int32(s-a.base) < 0 || int32(s-a.next) >= 0 {
		return false
	}

	advanced := false
	if int32(s-a.lastAcked) > 0 {
		a.lastAcked = s
		advanced = true
	}

	if s != a.base {
		a.acked[s] = struct{}{}
		return advanced
	}
	a.base++
	for {
		if _, ok := a.acked[a.base]; !ok {
			break
		}
		delete(a.acked, a.base)
		a.base++
	}
	return advanced
}

// Outstanding returns how many assigned sequences are not yet acknowledged.
func (a *Allocator) Outstanding() uint32 {
	return a.next - a.base - uint32(len(a.acked))
}

// CanSend reports whether s lies inside the window that the receiver can
// still disambiguate.
func (a *Allocator) CanSend(s uint32) bool {
	return s-a.base <= a.win.Max()
}

// Uint16Seq is a sequence number as carried in transport packet headers.
type Uint16Seq uint16

// DecodeUint16Seq decodes a slice to Uint16Seq.
func DecodeUint16Seq(b []byte) Uint16Seq {
	if len(b) < 2 {
		return 0
	}
	return Uint16Seq(binary.BigEndian.Uint16(b[:2]))
}

// Encode encodes the Uint16Seq to a 2-byte slice.
func (s Uint16Seq) Encode() []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(s))
	return b
}

// After reports whether s is later than o, accounting for wraparound.
func (s Uint16Seq) After(o Uint16Seq) bool { return int16(s-o) > 0 }
