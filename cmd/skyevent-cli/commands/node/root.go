package node

import (
	"net/rpc"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/skycoin/skyevent/pkg/node"
)

var log = logging.MustGetLogger("skyevent-cli")

var rpcAddr string

func init() {
	RootCmd.PersistentFlags().StringVarP(&rpcAddr, "rpc", "", "localhost:7402", "RPC server address")
}

// RootCmd contains commands that interact with the skyevent-node
var RootCmd = &cobra.Command{
	Use:   "node",
	Short: "Contains sub-commands that interact with the local skyevent node",
}

func rpcClient() node.RPCClient {
	client, err := rpc.Dial("tcp", rpcAddr)
	if err != nil {
		log.Fatal("RPC connection failed:", err)
	}
	return node.NewRPCClient(client, node.RPCPrefix)
}
