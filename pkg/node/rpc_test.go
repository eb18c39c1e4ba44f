package node

import (
	"net"
	"net/rpc"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRPCClient(t *testing.T, n *Node) (RPCClient, func()) {
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName(RPCPrefix, &RPC{node: n}))

	sConn, cConn := net.Pipe()
	go srv.ServeConn(sConn)

	rc := rpc.NewClient(cConn)
	return NewRPCClient(rc, RPCPrefix), func() { require.NoError(t, rc.Close()) }
}

func TestRPC(t *testing.T) {
	host := start(t, testConfig(RoleHost))
	defer host.stop(t)

	peerConf := testConfig(RolePeer)
	peerConf.Remote = host.node.Addr().String()
	peer := start(t, peerConf)
	defer peer.stop(t)

	hostRPC, closeHost := newRPCClient(t, host.node)
	defer closeHost()
	peerRPC, closePeer := newRPCClient(t, peer.node)
	defer closePeer()

	t.Run("Summary", func(t *testing.T) {
		assert.Eventually(t, func() bool {
			s, err := hostRPC.Summary()
			return err == nil && len(s.Conns) == 1
		}, 5*time.Second, 10*time.Millisecond)

		s, err := peerRPC.Summary()
		require.NoError(t, err)
		assert.Equal(t, RolePeer, s.Role)
		assert.Equal(t, peer.node.Addr().String(), s.Addr)
	})

	t.Run("Say", func(t *testing.T) {
		require.NoError(t, hostRPC.Say("from host"))
		assert.Eventually(t, func() bool {
			msgs, err := peerRPC.Messages()
			return err == nil && len(msgs) == 1 && msgs[0].Text == "from host"
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("Wrong role", func(t *testing.T) {
		_, err := hostRPC.Messages()
		require.Error(t, err)
		assert.Equal(t, ErrWrongRole.Error(), err.Error())
		require.NoError(t, peerRPC.Ping())
	})

	t.Run("Unknown connection log", func(t *testing.T) {
		_, err := hostRPC.ConnLog(uuid.New())
		assert.Error(t, err)
	})
}
