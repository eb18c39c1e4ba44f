package commands

import (
	"context"
	"log"
	"log/syslog"
	"os"
	"os/signal"
	"syscall"
	"time"

	logrus_syslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/skycoin/skyevent/pkg/node"
	"github.com/skycoin/skyevent/pkg/util/pathutil"
)

const configEnv = "SKYEVENT_CONFIG"
const defaultShutdownTimeout = node.Duration(10 * time.Second)

var (
	syslogAddr string
	tag        string
)

var rootCmd = &cobra.Command{
	Use:   "skyevent-node [config-path]",
	Short: "Chat room node over skyevent connections",
	Run: func(_ *cobra.Command, args []string) {
		logger := logging.MustGetLogger(tag)

		if syslogAddr != "none" {
			hook, err := logrus_syslog.NewSyslogHook("udp", syslogAddr, syslog.LOG_INFO, tag)
			if err != nil {
				logger.Error("Unable to connect to syslog daemon")
			} else {
				logging.AddHook(hook)
			}
		}

		configPath, err := pathutil.FindConfigPath(args, 0, configEnv, pathutil.NodeDefaults())
		if err != nil {
			logger.Fatal(err)
		}
		conf, err := node.ReadConfig(configPath)
		if err != nil {
			logger.Fatalf("Failed to read config: %s", err)
		}

		n, err := node.NewNode(conf)
		if err != nil {
			logger.Fatal("Failed to initialise node: ", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error, 1)
		go func() {
			errCh <- n.Start(ctx)
		}()

		if conf.ShutdownTimeout == 0 {
			conf.ShutdownTimeout = defaultShutdownTimeout
		}
		ch := make(chan os.Signal, 2)
		signal.Notify(ch, []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}...)
		select {
		case <-ch:
		case err := <-errCh:
			if err != nil {
				logger.WithError(err).Error("Node stopped.")
			}
		}
		go func() {
			select {
			case <-time.After(time.Duration(conf.ShutdownTimeout)):
				logger.Fatal("Timeout reached: terminating")
			case s := <-ch:
				logger.Fatalf("Received signal %s: terminating", s)
			}
		}()

		if err := n.Close(); err != nil {
			logger.Fatal("Failed to close node: ", err)
		}
	},
	Version: node.Version,
}

func init() {
	rootCmd.Flags().StringVarP(&syslogAddr, "syslog", "", "none", "syslog server address. E.g. localhost:514")
	rootCmd.Flags().StringVarP(&tag, "tag", "", "skyevent", "logging tag")
}

// Execute executes root CLI command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
