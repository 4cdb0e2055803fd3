// Package cmd implements a simple CLI for the deploysys package
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/deckhand-sh/deckhand/pkg/deploysys"
)

// PlanFile is the name of the plan script searched for by the run command.
const PlanFile = "deploy.star"

// CacheFile holds the plan parsed by a previous configure call.
const CacheFile = ".deckhand.cache"

var RootCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs steps from the deployment plan",
	Long: `This command parses the first deploy.star file it finds and executes the given
steps in order. Without arguments, the available steps are listed instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stepArgs := make([]string, 0)
		options := make(map[string]string)
		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		for _, part := range args {
			pos := strings.Index(part, "=")
			if pos > -1 {
				options[part[:pos]] = part[pos+1:]
			} else {
				stepArgs = append(stepArgs, part)
			}
		}

		logger := zerolog.New(NewConsoleWriter())
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx = deploysys.WithLogger(ctx, &logger)

		planPath, err := FindPlanFile()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to locate the plan file")
		}

		plan, err := loadPlan(ctx, planPath, options)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to parse the plan")
		}

		if len(stepArgs) == 0 {
			printSteps(plan)
			return nil
		}

		err = deploysys.RunSequence(ctx, filepath.Dir(planPath), stepArgs, plan, dryRun, force)
		if err != nil {
			logger.Error().Err(err).Msg("Run aborted")
		}

		return err
	},
}

// FindPlanFile walks from the working directory towards the filesystem root
// and returns the relative path of the first deploy.star it finds.
func FindPlanFile() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", eris.Wrap(err, "failed to retrieve the current working directory")
	}

	path := wd
	for {
		planPath := filepath.Join(path, PlanFile)
		_, err := os.Stat(planPath)
		if err == nil {
			return filepath.Rel(wd, planPath)
		}
		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "failed to check %s", planPath)
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", eris.Errorf("no %s file found", PlanFile)
		}

		path = parent
	}
}

// loadPlan prefers the cache written by configure and falls back to parsing
// the plan script. Passing explicit KEY=VALUE options always reparses.
func loadPlan(ctx context.Context, planPath string, options map[string]string) (deploysys.Plan, error) {
	cachePath := filepath.Join(filepath.Dir(planPath), CacheFile)
	if len(options) == 0 {
		_, plan, err := deploysys.ReadCache(cachePath)
		if err == nil {
			return plan, nil
		}
		// a stale or missing cache is not an error, reparse the script
	}

	plan, _, err := deploysys.RunScript(ctx, planPath, filepath.Dir(planPath), options, true)
	return plan, err
}

func printSteps(plan deploysys.Plan) {
	fmt.Println("Available steps:")
	maxNameLen := 0
	sortedNames := make([]string, 0)
	for _, step := range plan {
		nameLen := len(step.Name)
		if nameLen > maxNameLen {
			maxNameLen = nameLen
		}

		sortedNames = append(sortedNames, step.Name)
	}

	sort.Strings(sortedNames)

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range sortedNames {
		fmt.Printf(lineFmt, name+":", plan[name].Desc)
	}
}

func init() {
	RootCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	RootCmd.Flags().BoolP("force", "f", false, "always execute the passed steps even if they don't have to run")
}
