// Command smsforward runs the SMS to email forwarding service and its
// maintenance tasks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kart-io/smsforward/pkg/config"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "smsforward",
	Short: "Forward incoming SMS to email by rule",
	Long: `smsforward ingests short messages, matches them against prioritized
forwarding rules and delivers matches to an SMTP destination with retry.

Configuration is read from the file given by --config and from
SMSFORWARD_* environment variables, e.g. SMSFORWARD_POSTGRES_DSN.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error, silent)")

	rootCmd.AddCommand(serveCmd, migrateCmd, rulesCmd, statsCmd, sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var opts []config.Option
	if logLevel != "" {
		opts = append(opts, config.WithLogLevel(logLevel))
	}
	cfg, err := config.Load(configPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
