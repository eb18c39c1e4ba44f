// Package chat is a small chat room built from rpc calls: peers send lines
// to the host, which relays them to every attached peer.
package chat

import (
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skyevent/pkg/bitstream"
	"github.com/skycoin/skyevent/pkg/netevent"
	"github.com/skycoin/skyevent/pkg/rpc"
)

var log = logging.MustGetLogger("chat")

// Limits of chat call arguments.
const (
	MaxNameLen = 32
	MaxTextLen = 512
)

// MaxCallBits is the payload size of the largest chat call, a ChatMessage
// carrying a full name and line.
var MaxCallBits = stringBits(MaxNameLen) + stringBits(MaxTextLen)

func stringBits(maxLen int) int {
	return int(bitstream.RangeBits(0, uint32(maxLen))) + maxLen*8
}

// Protocol versions understood by NewRegistry.
const (
	Version1 = 1 // SendChat, ChatMessage, Ping, Pong
	Version2 = 2 // adds SetName
)

// ChatReceiver handles chat lines sent by peers.
type ChatReceiver interface {
	ReceiveChat(c *netevent.Conn, text string) error
}

// ChatDisplayer handles chat lines relayed by the host.
type ChatDisplayer interface {
	DisplayChat(c *netevent.Conn, from, text string) error
}

// NameSetter handles nickname changes.
type NameSetter interface {
	SetName(c *netevent.Conn, name string) error
}

// PongReceiver handles replies to Ping.
type PongReceiver interface {
	ReceivePong(c *netevent.Conn, nonce uint32) error
}

// SendChat sends one line from a peer to the host.
var SendChat = &rpc.Method{
	Name:      "SendChat",
	Params:    []rpc.Param{rpc.String(MaxTextLen)},
	Guarantee: netevent.GuaranteedOrdered,
	Direction: netevent.DirPeerToHost,
	Handle: func(c *netevent.Conn, args []interface{}) error {
		h, ok := c.Handler().(ChatReceiver)
		if !ok {
			return rpc.ErrNoCapability
		}
		return h.ReceiveChat(c, args[0].(string))
	},
}

// ChatMessage delivers a relayed line to a peer.
var ChatMessage = &rpc.Method{
	Name:      "ChatMessage",
	Params:    []rpc.Param{rpc.String(MaxNameLen), rpc.String(MaxTextLen)},
	Guarantee: netevent.GuaranteedOrdered,
	Direction: netevent.DirHostToPeer,
	Handle: func(c *netevent.Conn, args []interface{}) error {
		h, ok := c.Handler().(ChatDisplayer)
		if !ok {
			return rpc.ErrNoCapability
		}
		return h.DisplayChat(c, args[0].(string), args[1].(string))
	},
}

// Ping asks the remote to answer with a Pong carrying the same nonce.
var Ping = &rpc.Method{
	Name:      "Ping",
	Params:    []rpc.Param{rpc.Uint(32)},
	Guarantee: netevent.Unguaranteed,
	Direction: netevent.DirAny,
	Handle: func(c *netevent.Conn, args []interface{}) error {
		return Pong.Call(c, args[0])
	},
}

// Pong answers a Ping. Handlers without PongReceiver ignore it.
var Pong = &rpc.Method{
	Name:      "Pong",
	Params:    []rpc.Param{rpc.Uint(32)},
	Guarantee: netevent.Unguaranteed,
	Direction: netevent.DirAny,
	Handle: func(c *netevent.Conn, args []interface{}) error {
		h, ok := c.Handler().(PongReceiver)
		if !ok {
			return nil
		}
		return h.ReceivePong(c, uint32(args[0].(uint64)))
	},
}

// SetName changes the nickname the host shows for a peer.
var SetName = &rpc.Method{
	Name:      "SetName",
	Params:    []rpc.Param{rpc.String(MaxNameLen)},
	Guarantee: netevent.Guaranteed,
	Direction: netevent.DirPeerToHost,
	Handle: func(c *netevent.Conn, args []interface{}) error {
		h, ok := c.Handler().(NameSetter)
		if !ok {
			return rpc.ErrNoCapability
		}
		return h.SetName(c, args[0].(string))
	},
}

// NewRegistry returns the class table of the given protocol version.
// Newer tables extend older ones, so endpoints of both versions interoperate
// at the older version.
func NewRegistry(version int) (*netevent.Registry, error) {
	groups := [][]netevent.Class{
		rpc.Classes(SendChat, ChatMessage, Ping, Pong),
		rpc.Classes(SetName),
	}
	if version < Version1 || version > len(groups) {
		return nil, ErrUnknownVersion
	}
	classes, boundaries := netevent.Versions(groups[:version]...)
	return netevent.NewRegistry(classes, boundaries)
}
