package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kart-io/smsforward/pkg/retention"
)

var sweepMaxAge time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete history older than the retention window once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		maxAge := a.cfg.Retention.MaxAge
		if sweepMaxAge > 0 {
			maxAge = sweepMaxAge
		}
		report, err := retention.New(a.ledger, a.stats,
			retention.WithMaxAge(maxAge),
			retention.WithLogger(a.log),
		).Sweep(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "cutoff %s: %d records, %d messages, %d statistics days, %d leases removed\n",
			report.Cutoff.Format(time.RFC3339), report.Records, report.Messages, report.Statistics, report.Leases)
		return err
	},
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepMaxAge, "max-age", 0, "override retention.max_age")
}
