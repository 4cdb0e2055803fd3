package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/deckhand-sh/deckhand/pkg/deploysys"
	deploycmd "github.com/deckhand-sh/deckhand/pkg/deploysys/cmd"
)

var rootCmd = &cobra.Command{
	Use:   "deckhand",
	Short: "Deployment sequencer for Django-style web applications",
	Long: `Deckhand runs the external commands needed to deploy a Django-style web
application as a strictly ordered, fail-fast sequence. It also bundles a few
related chores like fetching pinned helper tools and pre-compressing static
assets.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(deploycmd.RootCmd)
}

// Execute runs the root command. On failure the process exits with the
// failing step's exit status so callers observe the same code the external
// tool reported.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(deploysys.ExitStatus(err))
	}
}
