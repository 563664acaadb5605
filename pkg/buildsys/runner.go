package buildsys

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/ngld/devbox/pkg/build"
)

// RunOptions modify how Run executes steps
type RunOptions struct {
	DryRun bool
	Force  bool
}

func (s *Step) action() build.Action {
	return func(ctx context.Context) error {
		cmd := build.Shell(s.Script()).WorkDir(s.Base)
		for name, value := range s.Env {
			cmd = cmd.Env(name, value)
		}

		return cmd.Run(ctx)
	}
}

// Run executes the given steps in order. Each step only runs if its target is stale (see
// build.MkFrom). The first failure stops the run.
func Run(ctx context.Context, steps StepList, opts RunOptions) (int, error) {
	built := 0
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return built, err
		}

		target, err := step.TargetUnit()
		if err != nil {
			return built, eris.Wrapf(err, "invalid target for step %s", step.Desc)
		}

		inputs, err := step.InputResource()
		if err != nil {
			return built, eris.Wrapf(err, "invalid inputs for step %s", step.Desc)
		}

		ran, err := build.MkFrom(ctx, target, step.Desc, inputs, step.action(),
			build.Force(opts.Force), build.DryRun(opts.DryRun))
		if err != nil {
			return built, err
		}

		if ran {
			built++
			if opts.DryRun {
				for _, cmd := range step.Cmds {
					build.Log(ctx).Info().Str("step", step.Desc).Bool("command", true).Msgf("Would execute: %s", cmd)
				}
			}
		}
	}

	return built, nil
}
