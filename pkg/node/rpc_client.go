package node

import (
	"net/rpc"

	"github.com/google/uuid"

	"github.com/skycoin/skyevent/pkg/chat"
	"github.com/skycoin/skyevent/pkg/eventlog"
)

// RPCClient represents a RPC Client implementation.
type RPCClient interface {
	Summary() (*Summary, error)
	ConnLog(id uuid.UUID) (*eventlog.LogEntry, error)

	Say(text string) error
	Ping() error
	Messages() ([]chat.Message, error)
}

// RPCClient provides methods to call an RPC Server.
// It implements RPCClient
type rpcClient struct {
	client *rpc.Client
	prefix string
}

// NewRPCClient creates a new RPCClient.
func NewRPCClient(rc *rpc.Client, prefix string) RPCClient {
	return &rpcClient{client: rc, prefix: prefix}
}

// Call calls the internal rpc.Client with the serviceMethod arg prefixed.
func (rc *rpcClient) Call(method string, args, reply interface{}) error {
	return rc.client.Call(rc.prefix+"."+method, args, reply)
}

// Summary calls Summary.
func (rc *rpcClient) Summary() (*Summary, error) {
	out := new(Summary)
	err := rc.Call("Summary", &struct{}{}, out)
	return out, err
}

// ConnLog calls ConnLog.
func (rc *rpcClient) ConnLog(id uuid.UUID) (*eventlog.LogEntry, error) {
	out := new(eventlog.LogEntry)
	err := rc.Call("ConnLog", &id, out)
	return out, err
}

// Say calls Say.
func (rc *rpcClient) Say(text string) error {
	return rc.Call("Say", &text, &struct{}{})
}

// Ping calls Ping.
func (rc *rpcClient) Ping() error {
	return rc.Call("Ping", &struct{}{}, &struct{}{})
}

// Messages calls Messages.
func (rc *rpcClient) Messages() ([]chat.Message, error) {
	var out []chat.Message
	err := rc.Call("Messages", &struct{}{}, &out)
	return out, err
}
