package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kart-io/smsforward/pkg/model"
	"github.com/kart-io/smsforward/pkg/rule"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage forwarding rules",
}

var rulesInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the default rule set when no rules exist",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := rule.InitializeDefaults(cmd.Context(), a.rules)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "rules already exist, nothing created")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %d default rules\n", n)
		return nil
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules in evaluation order",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		rules, err := a.rules.List(cmd.Context())
		if err != nil {
			return err
		}
		rule.SortRules(rules)
		printRules(cmd, rules)
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesInitCmd, rulesListCmd)
}

func printRules(cmd *cobra.Command, rules []model.ForwardRule) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIORITY\tENABLED\tTYPE\tMATCH\tNAME\tPATTERNS")
	for _, r := range rules {
		patterns := append(append([]string(nil), r.SenderPatterns...), r.Keywords...)
		fmt.Fprintf(w, "%d\t%d\t%t\t%s\t%s\t%s\t%s\n",
			r.ID, r.Priority, r.Enabled, r.RuleType, r.MatchType, r.Name, strings.Join(patterns, ","))
	}
	w.Flush()
}

// openApp loads the configuration and connects the stores for a one-shot
// command.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, newLogger(cfg, os.Stderr))
}
