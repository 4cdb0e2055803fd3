package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/deckhand-sh/deckhand/pkg"
	"github.com/deckhand-sh/deckhand/pkg/config"
	"github.com/deckhand-sh/deckhand/pkg/readiness"
)

var waitDbCmd = &cobra.Command{
	Use:   "wait-db",
	Short: "Waits until the configured database accepts connections",
	Long: `Blocks until the PostgreSQL instance behind the configured DSN answers a
ping, then exits 0. Intended to gate the deploy command in container
orchestration where the database may come up after the application.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tcpAddr, err := cmd.Flags().GetString("tcp")
		if err != nil {
			return err
		}

		cfg, loader := config.Loader()
		err = loader.Load()
		if err != nil {
			return err
		}

		err = cfg.Validate()
		if err != nil {
			return err
		}

		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		ctx, cancel := context.WithTimeout(parent, time.Duration(cfg.Wait.Timeout)*time.Second)
		defer cancel()

		interval := time.Duration(cfg.Wait.Interval) * time.Second

		if tcpAddr != "" {
			pkg.PrintTask("Waiting for " + tcpAddr)
			err = readiness.WaitTCP(ctx, tcpAddr, interval)
		} else {
			pkg.PrintTask("Waiting for the database")
			err = readiness.WaitPostgres(ctx, cfg.Database, interval)
		}
		if err != nil {
			return err
		}

		pkg.PrintTask("Ready")
		return nil
	},
}

func init() {
	waitDbCmd.Flags().String("tcp", "", "wait for a plain TCP endpoint (host:port) instead of a database ping")

	rootCmd.AddCommand(waitDbCmd)
}
