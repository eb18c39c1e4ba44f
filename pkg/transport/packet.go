package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/skycoin/skyevent/pkg/seq"
)

const (
	dataHeaderLen  = 9 // type(1), seq(2), ackSeq(2), ackMask(4)
	countPacketLen = 5 // type(1), classCount(4)

	// ackWindow is the number of packets an ack mask covers.
	ackWindow = 32
)

// ErrMalformedPacket occurs when a datagram cannot be parsed.
var ErrMalformedPacket = errors.New("malformed packet")

// PacketType represents the packet type.
type PacketType byte

func (pt PacketType) String() string {
	var names = []string{
		ConnectType: "CONNECT",
		AcceptType:  "ACCEPT",
		RejectType:  "REJECT",
		DataType:    "DATA",
		CloseType:   "CLOSE",
	}
	if int(pt) >= len(names) || names[pt] == "" {
		return fmt.Sprintf("UNKNOWN:%d", pt)
	}
	return names[pt]
}

// Packet types.
const (
	ConnectType = PacketType(0x1)
	AcceptType  = PacketType(0x2)
	RejectType  = PacketType(0x3)
	DataType    = PacketType(0x4)
	CloseType   = PacketType(0x5)
)

// Packet is one datagram of the notify protocol.
type Packet []byte

func makeCountPacket(pt PacketType, classCount uint32) Packet {
	p := make(Packet, countPacketLen)
	p[0] = byte(pt)
	binary.BigEndian.PutUint32(p[1:], classCount)
	return p
}

// MakeConnect creates the packet that opens a connection.
func MakeConnect(classCount uint32) Packet { return makeCountPacket(ConnectType, classCount) }

// MakeAccept creates the acceptor's answer carrying the negotiated class count.
func MakeAccept(classCount uint32) Packet { return makeCountPacket(AcceptType, classCount) }

// MakeReject creates the acceptor's refusal.
func MakeReject(reason string) Packet { return append(Packet{byte(RejectType)}, reason...) }

// MakeClose creates the packet that terminates a connection.
func MakeClose(reason string) Packet { return append(Packet{byte(CloseType)}, reason...) }

// MakeData creates a data packet.
func MakeData(s, ackSeq seq.Uint16Seq, ackMask uint32, pay []byte) Packet {
	p := make(Packet, dataHeaderLen+len(pay))
	p[0] = byte(DataType)
	copy(p[1:3], s.Encode())
	copy(p[3:5], ackSeq.Encode())
	binary.BigEndian.PutUint32(p[5:9], ackMask)
	copy(p[dataHeaderLen:], pay)
	return p
}

// ParsePacket checks that b is a well-formed packet.
func ParsePacket(b []byte) (Packet, error) {
	if len(b) == 0 {
		return nil, ErrMalformedPacket
	}
	p := Packet(b)
	switch p.Type() {
	case ConnectType, AcceptType:
		if len(p) != countPacketLen {
			return nil, ErrMalformedPacket
		}
	case DataType:
		if len(p) < dataHeaderLen {
			return nil, ErrMalformedPacket
		}
	case RejectType, CloseType:
	default:
		return nil, ErrMalformedPacket
	}
	return p, nil
}

// Type returns the packet's type.
func (p Packet) Type() PacketType { return PacketType(p[0]) }

// ClassCount returns the class count of a Connect or Accept packet.
func (p Packet) ClassCount() uint32 { return binary.BigEndian.Uint32(p[1:5]) }

// Reason returns the reason of a Reject or Close packet.
func (p Packet) Reason() string { return string(p[1:]) }

// Seq returns the sequence of a Data packet.
func (p Packet) Seq() seq.Uint16Seq { return seq.DecodeUint16Seq(p[1:3]) }

// Ack returns the acknowledgement fields of a Data packet.
func (p Packet) Ack() (seq.Uint16Seq, uint32) {
	return seq.DecodeUint16Seq(p[3:5]), binary.BigEndian.Uint32(p[5:9])
}

// Pay returns the event payload of a Data packet.
func (p Packet) Pay() []byte { return p[dataHeaderLen:] }

// String implements io.Stringer
func (p Packet) String() string {
	switch p.Type() {
	case ConnectType, AcceptType:
		return fmt.Sprintf("<type:%s><classes:%d>", p.Type(), p.ClassCount())
	case DataType:
		ack, mask := p.Ack()
		return fmt.Sprintf("<type:%s><seq:%d><ack:%d><mask:%032b><size:%d>", p.Type(), p.Seq(), ack, mask, len(p.Pay()))
	default:
		return fmt.Sprintf("<type:%s><reason:%q>", p.Type(), p.Reason())
	}
}
