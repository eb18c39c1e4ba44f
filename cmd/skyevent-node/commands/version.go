package commands

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/skycoin/skyevent/pkg/chat"
	"github.com/skycoin/skyevent/pkg/node"
	"github.com/skycoin/skyevent/pkg/seq"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the skyevent-node version and supported protocol versions",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("skyevent-node %s (%s, %s/%s)\n", node.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		if info, ok := debug.ReadBuildInfo(); ok {
			fmt.Printf("module: %s %s\n", info.Main.Path, info.Main.Version)
		}
		for v := chat.Version1; v <= chat.Version2; v++ {
			reg, err := chat.NewRegistry(v)
			if err != nil {
				logging.MustGetLogger("skyevent-node").WithError(err).Fatalf("Invalid chat protocol version %d.", v)
			}
			fmt.Printf("chat protocol v%d: %d classes\n", v, reg.Count())
		}
		fmt.Printf("default sequence width: %d bits\n", seq.DefaultBits)
	},
}
