package buildsys

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	starsyntax "go.starlark.net/syntax"

	"github.com/ngld/devbox/pkg/build"
)

// Step contains the processed values passed to mk_from() by the build script
type Step struct {
	Desc   string
	Target string
	// Kind is either "file" or "dir"
	Kind   string
	Base   string
	Inputs []string
	Env    map[string]string
	Cmds   []string
}

// StepList holds the declared steps in declaration order
type StepList []*Step

// Script is the result of evaluating a build script
type Script struct {
	Steps   StepList
	Options map[string]ScriptOption
	// Sources lists every file the evaluation read (the script itself and YAML files)
	Sources []string
}

type ScriptOption struct {
	DefaultValue starlark.String
	Help         string
}

func (o ScriptOption) Default() string {
	return o.DefaultValue.GoString()
}

// TargetUnit returns the step's target as a build.File or build.Dir
func (s *Step) TargetUnit() (build.Unit, error) {
	if s.Kind == "dir" {
		return build.NewDir(s.Target)
	}

	return build.NewFile(s.Target)
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// InputResource combines all input patterns into a single resource. Literal paths are used
// directly, patterns are split into a base directory and a listing below it.
func (s *Step) InputResource() (build.Set[build.Resource], error) {
	result := make(build.Set[build.Resource], 0, len(s.Inputs))
	for _, input := range s.Inputs {
		if !hasMeta(input) {
			file, err := build.NewFile(input)
			if err != nil {
				return nil, err
			}

			result = append(result, file)
			continue
		}

		base, pattern := doublestar.SplitPattern(filepath.ToSlash(input))
		dir, err := build.NewDir(filepath.FromSlash(base))
		if err != nil {
			return nil, eris.Wrapf(err, "invalid input pattern %s", input)
		}

		result = append(result, dir.Content(pattern))
	}

	return result, nil
}

// Script returns all commands as a single shell script
func (s *Step) Script() string {
	return strings.Join(s.Cmds, "\n")
}

// Implement starlark.Value for StarlarkPath

type StarlarkPath string

func (p StarlarkPath) String() string {
	return starlark.String(p).String()
}

func (p StarlarkPath) Type() string {
	return "path"
}

func (p StarlarkPath) Freeze() {}

func (p StarlarkPath) Truth() starlark.Bool {
	return p != ""
}

func (p StarlarkPath) Hash() (uint32, error) {
	return starlark.String(p).Hash()
}

func (p StarlarkPath) CompareSameType(op starsyntax.Token, y_ starlark.Value, depth int) (bool, error) {
	y := y_.(StarlarkPath)

	switch op {
	case starsyntax.EQL:
		return p == y, nil
	case starsyntax.NEQ:
		return p != y, nil
	case starsyntax.LT:
		return p < y, nil
	case starsyntax.LE:
		return p <= y, nil
	case starsyntax.GT:
		return p > y, nil
	case starsyntax.GE:
		return p >= y, nil
	}

	return false, eris.Errorf("unknown operator %v", op)
}

func (p StarlarkPath) Index(i int) starlark.Value {
	return starlark.String(p[i])
}

func (p StarlarkPath) Len() int {
	return len(p)
}

func (p StarlarkPath) Slice(start, end, step int) starlark.Value {
	return starlark.String(p).Slice(start, end, step)
}
