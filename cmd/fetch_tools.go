package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/deckhand-sh/deckhand/pkg"
	"github.com/deckhand-sh/deckhand/pkg/tools"
)

var fetchToolsCmd = &cobra.Command{
	Use:   "fetch-tools",
	Short: "Downloads and unpacks pinned helper tools",
	Long: `Downloads and unpacks the helper tools listed in TOOLS.yml (for example a
node runtime or a CSS build binary used during asset collection). Every
download is verified against its pinned sha256 checksum and tracked in
TOOLS.stamps so unchanged tools aren't fetched again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		update, err := cmd.Flags().GetBool("update")
		if err != nil {
			return err
		}

		root, err := pkg.GetProjectRoot()
		if err != nil {
			return err
		}

		pkg.PrintTask("Loading " + tools.ManifestFile)
		manifest, err := tools.LoadManifest(root)
		if err != nil {
			return err
		}

		pkg.PrintTask("Downloading tools")
		fetcher := tools.Fetcher{
			Root:   root,
			Update: update,
			Quiet:  os.Getenv("CI") == "true",
			Announce: func(name, url string) {
				pkg.PrintSubtask(name + ":  " + url)
			},
		}

		changes, err := fetcher.FetchAll(manifest)
		if err != nil {
			return err
		}

		if len(changes) > 0 {
			pkg.PrintTask("Updating " + tools.ManifestFile)
			err = tools.UpdateChecksums(root, changes)
			if err != nil {
				return err
			}
		}

		pkg.PrintTask("Done")
		return nil
	},
}

func init() {
	fetchToolsCmd.Flags().BoolP("update", "u", false, "update pinned checksums from the downloaded archives")

	rootCmd.AddCommand(fetchToolsCmd)
}
