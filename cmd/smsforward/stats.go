package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kart-io/smsforward/pkg/model"
	"github.com/kart-io/smsforward/pkg/stats"
)

var (
	statsDays int
	statsJSON bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show daily forwarding statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if statsDays < 1 {
			return fmt.Errorf("--days must be at least 1")
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		to := time.Now()
		from := to.AddDate(0, 0, -(statsDays - 1))
		days, err := a.stats.Range(cmd.Context(), from, to)
		if err != nil {
			return err
		}
		sum, err := a.stats.Summarize(cmd.Context(), from, to)
		if err != nil {
			return err
		}

		if statsJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Days    []model.ForwardStatistics `json:"days"`
				Summary stats.Summary             `json:"summary"`
			}{days, sum})
		}
		printStats(cmd, days, sum)
		return nil
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsDays, "days", 7, "number of days to show, ending today")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print JSON instead of a table")
}

func printStats(cmd *cobra.Command, days []model.ForwardStatistics, sum stats.Summary) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "DATE\tRECEIVED\tFORWARDED\tFAILED\tIGNORED\tAVG MS\tSUCCESS\t")
	for _, d := range days {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.0f\t%.1f%%\t\n", d.Date,
			d.TotalReceived, d.TotalForwarded, d.TotalFailed, d.TotalIgnored, d.AverageProcessingTime, d.SuccessRate*100)
	}
	fmt.Fprintf(w, "TOTAL\t%d\t%d\t%d\t%d\t%.0f\t%.1f%%\t\n",
		sum.TotalReceived, sum.TotalForwarded, sum.TotalFailed, sum.TotalIgnored, sum.AverageProcessingTime, sum.SuccessRate*100)
	w.Flush()
}
