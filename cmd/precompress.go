package cmd

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/deckhand-sh/deckhand/pkg"
	"github.com/deckhand-sh/deckhand/pkg/config"
)

var precompressCmd = &cobra.Command{
	Use:   "precompress [static_root]",
	Short: "Writes .br and .gz siblings for collected static assets",
	Long: `Walks the static root produced by collectstatic and writes pre-compressed
.br and .gz variants next to every compressible file so the web server can
serve them directly. Files whose variants are already up to date are left
alone, which keeps repeated runs idempotent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := ""
		if len(args) > 0 {
			root = args[0]
		} else {
			cfg, loader := config.Loader()
			err := loader.Load()
			if err != nil {
				return err
			}
			root = cfg.StaticRoot
		}

		pkg.PrintTask("Scanning " + root)
		files, err := pkg.ListCompressible(root)
		if err != nil {
			return err
		}

		bar := progressbar.Default(int64(len(files)), "compress")
		written := 0
		for _, file := range files {
			didWrite, err := pkg.CompressFile(file)
			if err != nil {
				return err
			}

			if didWrite {
				written++
			}
			bar.Add(1)
		}
		bar.Finish()

		pkg.PrintTask(fmt.Sprintf("Compressed %d of %d files (%d already up to date)",
			written, len(files), len(files)-written))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(precompressCmd)
}
