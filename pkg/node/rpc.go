package node

import (
	"github.com/google/uuid"

	"github.com/skycoin/skyevent/pkg/chat"
	"github.com/skycoin/skyevent/pkg/eventlog"
)

const (
	// RPCPrefix is the prefix used with all RPC calls.
	RPCPrefix = "skyevent-node"
)

// RPC defines RPC methods for Node.
type RPC struct {
	node *Node
}

/*
	<<< NODE SUMMARY >>>
*/

// Summary provides a summary of the Node.
func (r *RPC) Summary(_ *struct{}, out *Summary) error {
	*out = *r.node.Summary()
	return nil
}

// ConnLog obtains the log entry of a terminated connection.
func (r *RPC) ConnLog(id *uuid.UUID, out *eventlog.LogEntry) error {
	entry, err := r.node.ConnLog(*id)
	if err != nil {
		return err
	}
	*out = *entry
	return nil
}

/*
	<<< CHAT >>>
*/

// Say posts a chat line.
func (r *RPC) Say(text *string, _ *struct{}) error {
	return r.node.Say(*text)
}

// Ping pings the host of a peer node.
func (r *RPC) Ping(_ *struct{}, _ *struct{}) error {
	return r.node.Ping()
}

// Messages returns the lines a peer node received.
func (r *RPC) Messages(_ *struct{}, out *[]chat.Message) error {
	msgs, err := r.node.Messages()
	if err != nil {
		return err
	}
	*out = msgs
	return nil
}
