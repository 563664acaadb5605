package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/devbox/pkg"
	"github.com/ngld/devbox/pkg/build"
	"github.com/ngld/devbox/pkg/buildsys"
)

// ScriptName is the name of the build script run looks for
const ScriptName = "mk.star"

var RunCmd = &cobra.Command{
	Use:   "run [name=value...]",
	Short: "Runs the steps declared in the nearest mk.star",
	Long: `This command parses the first mk.star file it finds (starting in the current directory and
walking upwards) and runs every step whose target is out of date. Script options are passed as
name=value arguments.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		options, err := parseOptions(args)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		dryRun, err := flags.GetBool("dry")
		if err != nil {
			return err
		}

		force, err := flags.GetBool("force")
		if err != nil {
			return err
		}

		watch, err := flags.GetBool("watch")
		if err != nil {
			return err
		}

		list, err := flags.GetBool("list")
		if err != nil {
			return err
		}

		debounce, err := flags.GetDuration("debounce")
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		wd, err := os.Getwd()
		if err != nil {
			return eris.Wrap(err, "failed to retrieve the current working directory")
		}

		projectRoot, err := build.FindUp(wd, ScriptName)
		if err != nil {
			return eris.Wrapf(err, "no %s file found", ScriptName)
		}
		scriptPath := filepath.Join(projectRoot, ScriptName)

		if list {
			script, err := buildsys.Parse(ctx, scriptPath, projectRoot, options)
			if err != nil {
				return err
			}

			printScript(script)
			return nil
		}

		runner := scriptRunner{
			scriptPath:  scriptPath,
			projectRoot: projectRoot,
			options:     options,
			runOpts:     buildsys.RunOptions{DryRun: dryRun, Force: force},
		}

		if !watch {
			_, err = runner.run(ctx)
			return err
		}

		return runner.watch(ctx, debounce)
	},
}

func parseOptions(args []string) (map[string]string, error) {
	options := make(map[string]string)
	for _, part := range args {
		name, value, found := strings.Cut(part, "=")
		if !found || name == "" {
			return nil, eris.Errorf("expected name=value but got %s", part)
		}

		options[name] = value
	}

	return options, nil
}

func printScript(script *buildsys.Script) {
	pkg.PrintTask("Options")
	names := make([]string, 0, len(script.Options))
	for name := range script.Options {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		option := script.Options[name]
		pkg.PrintSubtask(fmt.Sprintf("%s=%s  %s", name, option.Default(), option.Help))
	}

	pkg.PrintTask("Steps")
	for _, step := range script.Steps {
		pkg.PrintSubtask(fmt.Sprintf("%s -> %s", step.Desc, step.Target))
	}
}

type scriptRunner struct {
	scriptPath  string
	projectRoot string
	options     map[string]string
	runOpts     buildsys.RunOptions
}

func (r scriptRunner) parse(ctx context.Context) (*buildsys.Script, error) {
	return buildsys.Parse(ctx, r.scriptPath, r.projectRoot, r.options)
}

func (r scriptRunner) build(ctx context.Context, script *buildsys.Script) error {
	built, err := buildsys.Run(ctx, script.Steps, r.runOpts)
	if err != nil {
		return err
	}

	if built == 0 {
		build.Log(ctx).Info().Msg("Everything is up to date")
	} else {
		build.Log(ctx).Info().Msgf("Rebuilt %d of %d steps", built, len(script.Steps))
	}
	return nil
}

func (r scriptRunner) run(ctx context.Context) (*buildsys.Script, error) {
	script, err := r.parse(ctx)
	if err != nil {
		return nil, err
	}

	return script, r.build(ctx, script)
}

// observe points watcher at the script's inputs or just the script's directory if parsing failed
func (r scriptRunner) observe(watcher *buildsys.Watcher, script *buildsys.Script) error {
	if script == nil {
		return watcher.Update([]string{filepath.Dir(r.scriptPath)}, nil)
	}

	dirs, err := script.WatchDirs()
	if err != nil {
		return err
	}

	return watcher.Update(dirs, script.Targets())
}

// watch re-runs the script whenever one of its inputs changes. Failed runs are logged and
// retried after the next change. The inputs are watched before the steps run so that edits made
// during a build trigger the next one.
func (r scriptRunner) watch(ctx context.Context, debounce time.Duration) error {
	watcher, err := buildsys.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for {
		script, err := r.parse(ctx)
		if obsErr := r.observe(watcher, script); obsErr != nil {
			return obsErr
		}

		if script != nil {
			err = r.build(ctx, script)
			if err == nil {
				// steps may have created directories that are inputs of other steps
				err = r.observe(watcher, script)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			build.Log(ctx).Error().Err(err).Msg("Build failed")
		}

		changed, err := watcher.Wait(ctx, debounce)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}

		build.Log(ctx).Info().Str("path", changed).Msgf("%s changed, rebuilding", changed)
	}
}

func init() {
	RunCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	RunCmd.Flags().BoolP("force", "f", false, "force build; always execute all steps even if they're up to date")
	RunCmd.Flags().BoolP("watch", "w", false, "watch the inputs and rebuild whenever they change")
	RunCmd.Flags().BoolP("list", "l", false, "list the script's options and steps instead of running it")
	RunCmd.Flags().Duration("debounce", 300*time.Millisecond, "how long to wait for further changes before rebuilding")
}
