package cmd

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/deckhand-sh/deckhand/pkg"
	"github.com/deckhand-sh/deckhand/pkg/deploysys"
	deploycmd "github.com/deckhand-sh/deckhand/pkg/deploysys/cmd"
)

var configureCmd = &cobra.Command{
	Use:   "configure [KEY=VALUE...]",
	Short: "Parses the deployment plan and caches the result",
	Long: `Parses the deploy.star plan with the given option values and stores the
resolved plan in ` + deploycmd.CacheFile + `. Later run invocations reuse the
cache instead of evaluating the script again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		options := make(map[string]string)
		for _, part := range args {
			pos := strings.Index(part, "=")
			if pos > -1 {
				options[part[:pos]] = part[pos+1:]
			} else {
				options[part] = "yes"
			}
		}

		logger := zerolog.New(deploycmd.NewConsoleWriter())
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx = deploysys.WithLogger(ctx, &logger)

		planPath, err := deploycmd.FindPlanFile()
		if err != nil {
			return err
		}

		pkg.PrintTask("Parsing " + planPath)
		plan, scriptOptions, err := deploysys.RunScript(ctx, planPath, filepath.Dir(planPath), options, true)
		if err != nil {
			return err
		}

		for name, option := range scriptOptions {
			value, ok := options[name]
			if !ok {
				value = option.Default()
			}

			pkg.PrintSubtask(name + " = " + value)
		}

		cachePath := filepath.Join(filepath.Dir(planPath), deploycmd.CacheFile)
		pkg.PrintTask("Writing " + cachePath)
		err = deploysys.WriteCache(cachePath, options, plan)
		if err != nil {
			return err
		}

		pkg.PrintTask("Done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configureCmd)
}
