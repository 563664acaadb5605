package cmd

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ngld/devbox/pkg"
	"github.com/ngld/devbox/pkg/build"
)

var installToolsCmd = &cobra.Command{
	Use:   "install-tools [tools.go]",
	Short: "Installs the Go tools imported by the project's tools.go into .tools",
	Long: `A tools.go file pins development tools in go.mod by importing them behind a build tag.
This command runs "go install" for each of them whenever tools.go, go.mod or go.sum changed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		b, err := build.New(ctx)
		if err != nil {
			return err
		}

		toolsFile := b.Root.MustFile("tools.go")
		if len(args) > 0 {
			toolsFile, err = absFile(args[0])
			if err != nil {
				return err
			}
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		modDir := toolsFile.Parent()
		binDir := b.Root.MustDir(".tools")
		inputs := build.Files(toolsFile, modDir.MustFile("go.mod"), modDir.MustFile("go.sum"))

		_, err = binDir.MkFrom(ctx, "install "+filepath.Base(toolsFile.Path()), inputs, func(ctx context.Context) error {
			pkg.PrintTask("Installing tools into " + binDir.Path())
			return pkg.InstallTools(ctx, b, toolsFile, binDir)
		}, build.Force(force))
		return err
	},
}

func init() {
	installToolsCmd.Flags().BoolP("force", "f", false, "reinstall the tools even if they're up to date")
	rootCmd.AddCommand(installToolsCmd)
}
