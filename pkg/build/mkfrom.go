package build

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
)

// Action regenerates a target
type Action func(ctx context.Context) error

type mkOptions struct {
	force  bool
	dryRun bool
}

// MkOption modifies the behaviour of MkFrom
type MkOption func(*mkOptions)

// Force makes MkFrom run the action even if the target is up to date
func Force(enabled bool) MkOption {
	return func(o *mkOptions) {
		o.force = enabled
	}
}

// DryRun makes MkFrom only report whether the target would be rebuilt
func DryRun(enabled bool) MkOption {
	return func(o *mkOptions) {
		o.dryRun = enabled
	}
}

// IsStale reports whether target has to be rebuilt from src. That's the case if target doesn't
// exist or if src is strictly newer than target. Sources without a timestamp (i.e. missing
// files) never make a target stale.
func IsStale(target, src Resource) bool {
	targetTime, exists := target.Timestamp()
	if !exists {
		return true
	}

	srcTime, ok := src.Timestamp()
	return ok && srcTime.After(targetTime)
}

// MkFrom runs action if target is stale (see IsStale) and reports whether it did.
//
// A failed action never leaves a fresh-looking target behind: a Unit target it created is removed
// again and a Unit target that existed before is back-dated so that the next call rebuilds it.
//
// Once the action succeeded, the target is marked as fresh: a missing Dir target is created and
// an existing Unit target which is still not newer than src is touched. A File target that's
// still missing results in ErrNotProduced.
func MkFrom(ctx context.Context, target Resource, description string, src Resource, action Action, opts ...MkOption) (bool, error) {
	var options mkOptions
	for _, opt := range opts {
		opt(&options)
	}

	if !options.force && !IsStale(target, src) {
		Log(ctx).Debug().Str("step", description).Msg("nothing to do")
		return false, nil
	}

	Log(ctx).Info().Str("step", description).Msgf("Building: %s", description)
	if options.dryRun {
		return true, nil
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, existed := target.Timestamp()
	err := action(ctx)
	if err != nil {
		discardTarget(ctx, target, existed)
		return false, eris.Wrapf(err, "failed to build %s", description)
	}

	srcTime, hasSrc := src.Timestamp()
	err = markFresh(ctx, target, srcTime, hasSrc)
	if err != nil {
		return true, eris.Wrapf(err, "failed to build %s", description)
	}

	return true, nil
}

func markFresh(ctx context.Context, target Resource, srcTime time.Time, hasSrc bool) error {
	targetTime, exists := target.Timestamp()
	if !exists {
		if dir, ok := target.(Dir); ok {
			return dir.Create()
		}

		return eris.Wrapf(ErrNotProduced, "%v is still missing", target)
	}

	if !hasSrc || targetTime.After(srcTime) {
		return nil
	}

	unit, ok := target.(Unit)
	if !ok {
		Log(ctx).Warn().Msgf("%v is still older than its inputs", target)
		return nil
	}

	return unit.Touch()
}

// staleTime is older than any source a build could have
var staleTime = time.Unix(0, 0)

func discardTarget(ctx context.Context, target Resource, existed bool) {
	unit, ok := target.(Unit)
	if !ok {
		return
	}

	if _, exists := unit.Timestamp(); !exists {
		return
	}

	var err error
	if existed {
		err = os.Chtimes(unit.Path(), staleTime, staleTime)
	} else {
		err = os.RemoveAll(unit.Path())
	}
	if err != nil {
		Log(ctx).Warn().Err(err).Str("path", unit.Path()).Msgf("Could not invalidate %s", unit.Path())
	}
}
