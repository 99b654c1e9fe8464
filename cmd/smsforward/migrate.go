package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kart-io/smsforward/pkg/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the PostgreSQL schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Postgres.Enabled {
			return errors.New("postgres is not enabled; set postgres.enabled and postgres.dsn")
		}
		a, err := newApp(cmd.Context(), cfg, newLogger(cfg, os.Stderr))
		if err != nil {
			return err
		}
		defer a.Close()

		if err := postgres.Migrate(cmd.Context(), a.pool); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		return nil
	},
}
