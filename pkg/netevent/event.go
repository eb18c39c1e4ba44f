// Package netevent queues, sequences and retransmits events over an
// unreliable packet transport.
package netevent

import (
	"fmt"

	"github.com/skycoin/skyevent/pkg/bitstream"
)

// Guarantee is the delivery contract of an event class.
type Guarantee uint8

// Delivery contracts.
const (
	// Unguaranteed events are delivered at most once and may be dropped.
	Unguaranteed Guarantee = iota
	// Guaranteed events are delivered exactly once in no particular order.
	Guaranteed
	// GuaranteedOrdered events are delivered exactly once in posting order.
	GuaranteedOrdered
	// GuaranteedOrderedLarge is GuaranteedOrdered with a relaxed size limit.
	GuaranteedOrderedLarge
)

func (g Guarantee) String() string {
	switch g {
	case Unguaranteed:
		return "unguaranteed"
	case Guaranteed:
		return "guaranteed"
	case GuaranteedOrdered:
		return "guaranteed_ordered"
	case GuaranteedOrderedLarge:
		return "guaranteed_ordered_large"
	default:
		return fmt.Sprintf("UNKNOWN:%d", g)
	}
}

// IsOrdered reports whether events of this class carry a sequence number.
func (g Guarantee) IsOrdered() bool {
	return g == GuaranteedOrdered || g == GuaranteedOrderedLarge
}

// IsGuaranteed reports whether lost events of this class are retransmitted.
func (g Guarantee) IsGuaranteed() bool {
	return g != Unguaranteed
}

// Direction restricts which endpoint may originate an event.
type Direction uint8

// Directions.
const (
	DirAny Direction = iota
	DirHostToPeer
	DirPeerToHost
)

func (d Direction) String() string {
	switch d {
	case DirAny:
		return "any"
	case DirHostToPeer:
		return "host_to_peer"
	case DirPeerToHost:
		return "peer_to_host"
	default:
		return fmt.Sprintf("UNKNOWN:%d", d)
	}
}

// SendableBy reports whether an endpoint with role r may post events of direction d.
func (d Direction) SendableBy(r Role) bool {
	switch d {
	case DirAny:
		return true
	case DirHostToPeer:
		return r == RoleHost
	case DirPeerToHost:
		return r == RolePeer
	default:
		return false
	}
}

// ReceivableBy reports whether an endpoint with role r may accept events of direction d.
func (d Direction) ReceivableBy(r Role) bool {
	switch d {
	case DirAny:
		return true
	case DirHostToPeer:
		return r == RolePeer
	case DirPeerToHost:
		return r == RoleHost
	default:
		return false
	}
}

// Role is the side of a connection an endpoint plays.
type Role uint8

// Roles.
const (
	RoleHost Role = iota
	RolePeer
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RolePeer:
		return "peer"
	default:
		return fmt.Sprintf("UNKNOWN:%d", r)
	}
}

// Event is a unit of application data carried by a Conn.
//
// Pack must be deterministic: an event may be packed several times (size
// checks, retransmission) and every rendition must be identical.
type Event interface {
	// ClassName identifies the event class in the Registry.
	ClassName() string
	Guarantee() Guarantee
	Direction() Direction
	Pack(w *bitstream.Writer) error
	Unpack(r *bitstream.Reader) error
	// Process runs the event's effect on the receiving side. A returned
	// error terminates the connection.
	Process(c *Conn) error
}

// Queuer is implemented by events that want to know when they are accepted
// by Post. Events posted from OnQueued are sent before the triggering event.
type Queuer interface {
	OnQueued(c *Conn)
}

// Sender is implemented by events that want to know when they are first
// written into a packet.
type Sender interface {
	OnSent(c *Conn)
}

// OutcomeNotifier is implemented by events that want to learn their fate.
// delivered is false only for Unguaranteed events whose packet was lost.
type OutcomeNotifier interface {
	OnOutcome(c *Conn, delivered bool)
}
