package cmd

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/devbox/pkg/build"
)

var unpackCmd = &cobra.Command{
	Use:   "unpack archive destination",
	Short: "Extracts a .zip, .tar.gz, .tar.bz2 or .tar.xz archive",
	Long: `The archive is only extracted if the destination is missing or older than the archive.
Entries which would end up outside of the destination are rejected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 {
			return eris.New("expected 2 arguments")
		}

		flags := cmd.Flags()
		opts := build.UnpackOptions{}
		var err error

		opts.Strip, err = flags.GetInt("strip")
		if err != nil {
			return err
		}

		opts.Clean, err = flags.GetBool("clean")
		if err != nil {
			return err
		}

		opts.Progress, err = flags.GetBool("progress")
		if err != nil {
			return err
		}

		force, err := flags.GetBool("force")
		if err != nil {
			return err
		}

		archive, err := absFile(args[0])
		if err != nil {
			return err
		}

		dest, err := absDir(args[1])
		if err != nil {
			return err
		}

		_, err = dest.MkFrom(commandContext(cmd), "unpack "+args[0], archive, func(ctx context.Context) error {
			return build.Unpack(ctx, archive, dest, opts)
		}, build.Force(force))
		return err
	},
}

func init() {
	unpackCmd.Flags().IntP("strip", "s", 0, "remove the given number of leading path elements from each entry")
	unpackCmd.Flags().Bool("clean", false, "remove the destination before extracting")
	unpackCmd.Flags().Bool("progress", true, "display a progress bar")
	unpackCmd.Flags().BoolP("force", "f", false, "extract even if the destination is up to date")
	rootCmd.AddCommand(unpackCmd)
}
