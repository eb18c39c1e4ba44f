package node

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skycoin/skyevent/pkg/node"
	"github.com/skycoin/skyevent/pkg/util/pathutil"
)

func init() {
	RootCmd.AddCommand(genConfigCmd)
}

var (
	output        string
	replace       bool
	role          string
	configLocType = pathutil.WorkingDirLoc
)

func init() {
	genConfigCmd.Flags().StringVarP(&output, "output", "o", "", "path of output config file, .yaml or .yml writes YAML. Uses default of 'type' flag if unspecified.")
	genConfigCmd.Flags().BoolVarP(&replace, "replace", "r", false, "whether to allow rewrite of a file that already exists.")
	genConfigCmd.Flags().StringVar(&role, "role", node.RoleHost, "node role: host or peer")
	genConfigCmd.Flags().VarP(&configLocType, "type", "m", fmt.Sprintf("config generation mode. Valid values: %v", pathutil.AllConfigLocationTypes()))
}

var genConfigCmd = &cobra.Command{
	Use:   "gen-config",
	Short: "Generates a config file",
	PreRun: func(_ *cobra.Command, _ []string) {
		if output == "" {
			var ok bool
			if output, ok = pathutil.NodeDefaults().Get(configLocType); !ok {
				log.Fatalf("invalid config type '%s' provided. Valid types: %v", configLocType, pathutil.AllConfigLocationTypes())
			}
			log.Infof("No 'output' set; using default path: %s", output)
		}
		var err error
		if output, err = filepath.Abs(output); err != nil {
			log.WithError(err).Fatalln("invalid output provided")
		}
	},
	Run: func(_ *cobra.Command, _ []string) {
		conf := node.DefaultConfig(role)
		switch configLocType {
		case pathutil.WorkingDirLoc:
			conf.LogStore.Type = node.LogStoreFile
			conf.LogStore.Location = "./skyevent/conn_logs"
		case pathutil.HomeLoc:
			conf.LogStore.Type = node.LogStoreBoltDB
			conf.LogStore.Location = filepath.Join(pathutil.HomeDir(), ".skycoin", "skyevent", "conn_logs.db")
		case pathutil.LocalLoc:
			conf.LogStore.Type = node.LogStoreBoltDB
			conf.LogStore.Location = "/usr/local/skycoin/skyevent/conn_logs.db"
		default:
			log.Fatalln("invalid config type:", configLocType)
		}
		if err := conf.Validate(); err != nil {
			log.WithError(err).Fatal("invalid role")
		}

		raw, err := conf.Marshal(output)
		if err != nil {
			log.WithError(err).Fatal("unexpected error, report to dev")
		}
		if _, err := os.Stat(output); !replace && err == nil {
			log.Fatalf("file %s already exists, stopping as 'replace,r' flag is not set", output)
		}
		if _, err := pathutil.EnsureDir(filepath.Dir(output)); err != nil {
			log.WithError(err).Fatalln("failed to create output directory")
		}
		if err := pathutil.AtomicWriteFile(output, raw, 0644); err != nil {
			log.WithError(err).Fatalln("failed to write file")
		}
		log.Infof("Wrote %d bytes to %s\n%s", len(raw), output, string(raw))
	},
}
