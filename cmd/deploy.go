package cmd

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/deckhand-sh/deckhand/pkg/config"
	"github.com/deckhand-sh/deckhand/pkg/deploysys"
	deploycmd "github.com/deckhand-sh/deckhand/pkg/deploysys/cmd"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Runs the deployment sequence: install, collectstatic, migrate",
	Long: `Executes the fixed deployment sequence for the project in the current
directory: install the Python dependencies, collect the static assets and
apply the database migrations. The sequence stops at the first failing
command and the process exits with that command's status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		skipMigrate, err := cmd.Flags().GetBool("skip-migrate")
		if err != nil {
			return err
		}

		upgradePip, err := cmd.Flags().GetBool("upgrade-pip")
		if err != nil {
			return err
		}

		cfg, loader := config.Loader()
		err = loader.Load()
		if err != nil {
			return err
		}

		logger := zerolog.New(deploycmd.NewConsoleWriter()).Level(cfg.LogLevel())
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx = deploysys.WithLogger(ctx, &logger)

		root, err := os.Getwd()
		if err != nil {
			return err
		}

		plan, order := deploysys.DefaultPlan(root, deploysys.DeployOptions{
			Python:       cfg.Python,
			Pip:          cfg.Pip,
			ManagePy:     cfg.ManagePy,
			Requirements: cfg.Requirements,
			UpgradePip:   upgradePip,
			SkipMigrate:  skipMigrate,
		})

		err = deploysys.RunSequence(ctx, root, order, plan, dryRun, force)
		if err != nil {
			logger.Error().Err(err).Msg("Deployment aborted")
		}

		return err
	},
}

func init() {
	deployCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	deployCmd.Flags().BoolP("force", "f", false, "ignore skip guards and run every step")
	deployCmd.Flags().Bool("skip-migrate", false, "don't apply database migrations")
	deployCmd.Flags().Bool("upgrade-pip", false, "upgrade pip before installing dependencies")

	rootCmd.AddCommand(deployCmd)
}
