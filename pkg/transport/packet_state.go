package transport

import (
	"github.com/skycoin/skyevent/pkg/netevent"
	"github.com/skycoin/skyevent/pkg/seq"
)

type sentPacket struct {
	seq    seq.Uint16Seq
	notify *netevent.PacketNotify
}

// packetState is the per-connection packet sequencing and acknowledgement
// bookkeeping. Packets that arrive out of order are rejected so an ack mask
// bit is set exactly when the payload was processed.
type packetState struct {
	next        seq.Uint16Seq
	outstanding []sentPacket

	recvAny     bool
	recvHighest seq.Uint16Seq
	recvMask    uint32 // bit i: recvHighest-i was processed
}

func newPacketState() *packetState {
	return &packetState{next: 1}
}

// send assigns a sequence to an outgoing packet. A nil n marks a packet
// without events, which is never tracked.
func (s *packetState) send(n *netevent.PacketNotify) seq.Uint16Seq {
	q := s.next
	s.next++
	if n != nil {
		s.outstanding = append(s.outstanding, sentPacket{seq: q, notify: n})
	}
	return q
}

// full reports whether another tracked packet would outgrow the ack window.
func (s *packetState) full() bool {
	return len(s.outstanding) > 0 && uint16(s.next-s.outstanding[0].seq) >= ackWindow
}

// inFlight returns the number of unresolved outgoing packets.
func (s *packetState) inFlight() int { return len(s.outstanding) }

// receive records an incoming packet sequence and reports whether its
// payload should be processed.
func (s *packetState) receive(q seq.Uint16Seq) bool {
	if !s.recvAny {
		s.recvAny = true
		s.recvHighest = q
		s.recvMask = 1
		return true
	}
	if !q.After(s.recvHighest) {
		return false
	}
	if d := uint16(q - s.recvHighest); d >= ackWindow {
		s.recvMask = 0
	} else {
		s.recvMask <<= d
	}
	s.recvMask |= 1
	s.recvHighest = q
	return true
}

// ackFields returns the acknowledgement to piggyback on the next packet.
func (s *packetState) ackFields() (seq.Uint16Seq, uint32) {
	return s.recvHighest, s.recvMask
}

// resolve settles every outstanding packet at or before ackSeq.
func (s *packetState) resolve(ackSeq seq.Uint16Seq, mask uint32) (acked, lost []*netevent.PacketNotify) {
	if mask == 0 {
		return nil, nil
	}
	for len(s.outstanding) > 0 {
		p := s.outstanding[0]
		if p.seq.After(ackSeq) {
			break
		}
		s.outstanding = s.outstanding[1:]
		if d := uint16(ackSeq - p.seq); d < ackWindow && mask&(1<<d) != 0 {
			acked = append(acked, p.notify)
		} else {
			lost = append(lost, p.notify)
		}
	}
	return acked, lost
}

// drain removes every outstanding packet.
func (s *packetState) drain() []*netevent.PacketNotify {
	out := make([]*netevent.PacketNotify, len(s.outstanding))
	for i, p := range s.outstanding {
		out[i] = p.notify
	}
	s.outstanding = nil
	return out
}
