package cmd

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/devbox/pkg"
	"github.com/ngld/devbox/pkg/build"
)

var packKarCmd = &cobra.Command{
	Use:   "pack-kar archive_name [content_directory]",
	Short: "Recursively packs the content of the passed directory into a .kar archive",
	Long: `Pass the name of the .kar file that should be generated and a directory with
the intended contents. The archive is only rebuilt if one of the files changed.
With --list, the content of an existing archive is printed instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := cmd.Flags().GetBool("list")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		if list {
			if len(args) != 1 {
				return eris.New("expected 1 argument")
			}

			return listKar(args[0])
		}

		if len(args) != 2 {
			return eris.New("expected 2 arguments")
		}

		archive, err := absFile(args[0])
		if err != nil {
			return err
		}

		content, err := absDir(args[1])
		if err != nil {
			return err
		}

		_, err = archive.MkFrom(commandContext(cmd), "pack "+args[0], content.Files("**"), func(ctx context.Context) error {
			return pkg.PackDir(ctx, content, archive)
		}, build.Force(force))
		return err
	},
}

func listKar(name string) error {
	archive, err := absFile(name)
	if err != nil {
		return err
	}

	reader, err := pkg.OpenKar(archive)
	if err != nil {
		return err
	}
	defer reader.Close()

	pkg.PrintTask(fmt.Sprintf("%s (%d files)", name, len(reader.Entries)))
	for _, entry := range reader.Entries {
		pkg.PrintSubtask(fmt.Sprintf("%s (%s, %s compressed)", entry.Path, humanize.Bytes(uint64(entry.DecSize)), humanize.Bytes(uint64(entry.Size))))
	}

	return nil
}

func init() {
	packKarCmd.Flags().BoolP("list", "l", false, "list the content of an existing archive")
	packKarCmd.Flags().BoolP("force", "f", false, "rebuild the archive even if it's up to date")
	rootCmd.AddCommand(packKarCmd)
}
