package cmd

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/devbox/pkg/build"
)

var embedCmd = &cobra.Command{
	Use:   "embed source_directory output_file",
	Short: "Generates a Go source file which contains every file of a directory",
	Long: `The generated file declares an accessor function which returns a file's content by its
slash separated path. The file is only regenerated if the directory changed. Inside go:generate,
the package defaults to $GOPACKAGE.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 {
			return eris.New("expected 2 arguments")
		}

		flags := cmd.Flags()
		opts := build.EmbedOptions{}
		var err error

		opts.Package, err = flags.GetString("package")
		if err != nil {
			return err
		}

		opts.Func, err = flags.GetString("func")
		if err != nil {
			return err
		}

		force, err := flags.GetBool("force")
		if err != nil {
			return err
		}

		ctx := commandContext(cmd)
		if opts.Package == "" {
			if b, err := build.New(ctx); err == nil {
				opts.Package = b.Package()
			}
			if opts.Package == "" {
				return eris.New("--package is required outside of go:generate")
			}
		}

		src, err := absDir(args[0])
		if err != nil {
			return err
		}

		out, err := absFile(args[1])
		if err != nil {
			return err
		}

		_, err = out.MkFrom(ctx, "embed "+args[0], src.Files("**"), func(ctx context.Context) error {
			return build.Embed(ctx, src, out, opts)
		}, build.Force(force))
		return err
	},
}

func init() {
	embedCmd.Flags().StringP("package", "p", "", "package name of the generated file (default $GOPACKAGE)")
	embedCmd.Flags().String("func", "Asset", "name of the generated accessor function")
	embedCmd.Flags().BoolP("force", "f", false, "regenerate the file even if it's up to date")
	rootCmd.AddCommand(embedCmd)
}
