package node

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skycoin/skyevent/cmd/skyevent-cli/internal"
)

func init() {
	RootCmd.AddCommand(
		summaryCmd,
		connLogCmd,
		sayCmd,
		pingCmd,
		messagesCmd,
	)
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Lists the open connections of the node",
	Run: func(_ *cobra.Command, _ []string) {
		summary, err := rpcClient().Summary()
		internal.Catch(err)

		fmt.Printf("role: %s\naddr: %s\n\n", summary.Role, summary.Addr)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.TabIndent)
		_, err = fmt.Fprintln(w, "id\tremote\tname\tpending\tsent\tacked\tlost\tdispatched")
		internal.Catch(err)
		for _, c := range summary.Conns {
			_, err = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
				c.ID, c.Remote, c.Name, c.Stats.Pending, c.Stats.Sent, c.Stats.Acked, c.Stats.Lost, c.Stats.Dispatched)
			internal.Catch(err)
		}
		internal.Catch(w.Flush())
	},
}

var connLogCmd = &cobra.Command{
	Use:   "conn-log <conn-id>",
	Short: "Shows the log entry of a closed connection",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		entry, err := rpcClient().ConnLog(internal.ParseUUID("conn-id", args[0]))
		internal.Catch(err)
		raw, err := json.MarshalIndent(entry, "", "  ")
		internal.Catch(err)
		fmt.Println(string(raw))
	},
}

var sayCmd = &cobra.Command{
	Use:   "say <text>...",
	Short: "Posts a chat line",
	Args:  cobra.MinimumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		internal.Catch(rpcClient().Say(strings.Join(args, " ")))
		fmt.Println("OK")
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Pings the host of a peer node",
	Run: func(_ *cobra.Command, _ []string) {
		internal.Catch(rpcClient().Ping())
		fmt.Println("OK")
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Lists the chat lines a peer node received",
	Run: func(_ *cobra.Command, _ []string) {
		msgs, err := rpcClient().Messages()
		internal.Catch(err)
		for _, m := range msgs {
			fmt.Printf("<%s> %s\n", m.From, m.Text)
		}
	},
}
