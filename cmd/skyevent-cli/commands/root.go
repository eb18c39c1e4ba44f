package commands

import (
	"github.com/spf13/cobra"

	"github.com/skycoin/skyevent/cmd/skyevent-cli/commands/node"
)

var rootCmd = &cobra.Command{
	Use:   "skyevent-cli",
	Short: "Command Line Interface for skyevent",
}

func init() {
	rootCmd.AddCommand(node.RootCmd)
}

// Execute executes root CLI command.
func Execute() {
	rootCmd.Execute() //nolint:errcheck
}
