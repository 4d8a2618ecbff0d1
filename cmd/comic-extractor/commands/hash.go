package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical/comic-extractor/pkg/comiccore"
)

var hashCmd = &cobra.Command{
	Use:   "hash <path>...",
	Short: "Print the content identity of comics",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core := comiccore.New(comiccore.Options{Config: cfg, Logger: logger})
		defer core.Close()

		for _, p := range args {
			fh, err := core.GetComicFileData(cmd.Context(), p)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			fmt.Printf("%s  %d  %s\n", fh.Hex(), fh.Size, p)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashCmd)
}
