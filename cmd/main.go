package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ngld/devbox/pkg/build"
	"github.com/ngld/devbox/pkg/buildsys/cmd"
)

var rootCmd = &cobra.Command{
	Use:   "devbox",
	Short: "Portable build helpers",
	Long: `This command bundles the tools used by build scripts: it runs mk.star files, embeds
and unpacks files and provides cross-platform versions of mv, rm and mkdir.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.AddCommand(cmd.RunCmd)
}

func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		return context.Background()
	}

	return ctx
}

// absFile resolves path relative to the working directory
func absFile(path string) (build.File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return build.File{}, eris.Wrapf(err, "failed to resolve %s", path)
	}

	return build.NewFile(abs)
}

// absDir resolves path relative to the working directory
func absDir(path string) (build.Dir, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return build.Dir{}, eris.Wrapf(err, "failed to resolve %s", path)
	}

	return build.NewDir(abs)
}

// loadConfig reads the configuration of the project surrounding the working directory. Outside
// of a project only the environment is used.
func loadConfig() (*build.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, eris.Wrap(err, "failed to retrieve the current working directory")
	}

	root, err := build.FindRoot(wd)
	if err != nil {
		root = wd
	}

	return build.LoadConfig(root)
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	cfg, cfgErr := loadConfig()
	if cfgErr != nil {
		cfg = &build.Config{}
		cfg.Log.Level = "info"
	}

	logger := cmd.NewLogger(cfg, os.Stderr)
	if cfgErr != nil {
		logger.Warn().Err(cfgErr).Msg("Ignoring invalid configuration")
	}

	err := rootCmd.ExecuteContext(build.WithLogger(ctx, &logger))
	stop()

	if err != nil {
		if eris.Is(err, context.Canceled) {
			logger.Warn().Msg("Interrupted")
		} else {
			logger.WithLevel(zerolog.ErrorLevel).Err(err).Msg("Command failed")
		}
		os.Exit(1)
	}
}
