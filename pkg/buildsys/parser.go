package buildsys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/devbox/pkg/build"
)

type parserCtx struct {
	ctx          context.Context
	options      map[string]ScriptOption
	optionValues map[string]string
	envOverrides map[string]string
	yamlCache    map[string]interface{}
	filepath     string
	projectRoot  string
	steps        StepList
	sources      []string
}

// * Helpers

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

func (ctx *parserCtx) addSource(path string) {
	for _, item := range ctx.sources {
		if item == path {
			return
		}
	}

	ctx.sources = append(ctx.sources, path)
}

type starlarkIterable interface {
	Len() int
	Iterate() starlark.Iterator
}

func starlarkIterable2stringSlice(input starlarkIterable, field string) ([]string, error) {
	if value, ok := input.(*starlark.List); ok && value == nil {
		return []string{}, nil
	}

	result := make([]string, 0, input.Len())
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		value, err := starlarkString(item, field)
		if err != nil {
			return nil, err
		}
		result = append(result, value)
	}
	return result, nil
}

// processCmdParts turns an argv list into a single shell command. Leading "NAME=value" strings
// become variable assignments, paths are passed relative to base.
func processCmdParts(parts []starlark.Value, base string) (string, error) {
	words := make([]string, 0, len(parts))
	assigns := true

	for _, part := range parts {
		var encodedValue string

		switch value := part.(type) {
		case starlark.String:
			encodedValue = value.GoString()
			if assigns {
				name, assigned, found := strings.Cut(encodedValue, "=")
				if found && name != "" && !strings.ContainsAny(name, " \t\"'$") {
					words = append(words, name+"="+shellQuote(assigned))
					continue
				}
			}
		case StarlarkPath:
			encodedValue = string(value)

			if filepath.IsAbs(encodedValue) {
				// absolute paths cause issues on Windows
				relValue, err := filepath.Rel(base, encodedValue)
				if err == nil {
					encodedValue = relValue
				}
			}

			encodedValue = filepath.ToSlash(encodedValue)
		default:
			return "", eris.Errorf("found argument of type %s but only strings and paths are supported: %s", part.Type(), part.String())
		}

		assigns = false
		words = append(words, shellQuote(encodedValue))
	}

	if assigns {
		return "", eris.New("command is empty")
	}

	cmd := strings.Join(words, " ")
	_, err := syntax.NewParser().Parse(strings.NewReader(cmd), "command")
	if err != nil {
		return "", eris.Wrapf(err, "malformed command %s", cmd)
	}

	return cmd, nil
}

func logPos(thread *starlark.Thread) (*parserCtx, string) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	return ctx, fmt.Sprintf("%s:%d:%d", simplifyPath(ctx.projectRoot, ctx.filepath), pos.Line, pos.Col)
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx, pos := logPos(thread)
	build.Log(ctx.ctx).Info().Msgf("%s: %s", pos, fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx, pos := logPos(thread)
	build.Log(ctx.ctx).Warn().Msgf("%s: %s", pos, fmt.Sprintf(msg, args...))
}

// * Builtin functions

func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.String
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	ctx.options[name] = ScriptOption{
		DefaultValue: defaultValue,
		Help:         help,
	}

	value, ok := ctx.optionValues[name]
	if ok {
		return starlark.String(value), nil
	}

	return defaultValue, nil
}

func mkFrom(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var target starlark.Value
	var inputs *starlark.List
	var env *starlark.Dict
	var cmds *starlark.List
	var base starlark.Value

	step := new(Step)

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "desc", &step.Desc, "target", &target, "inputs?", &inputs,
		"cmds?", &cmds, "env?", &env, "base?", &base, "kind?", &step.Kind)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)

	switch step.Kind {
	case "":
		step.Kind = "file"
	case "file", "dir":
	default:
		return nil, eris.Errorf("%s: unknown kind %q, expected \"file\" or \"dir\"", fn.Name(), step.Kind)
	}

	targetPath, err := starlarkString(target, "target")
	if err != nil {
		return nil, err
	}
	step.Target = normalizePath(ctx, targetPath)

	step.Base = "."
	if base != nil {
		step.Base, err = starlarkString(base, "base")
		if err != nil {
			return nil, err
		}
	}
	step.Base = normalizePath(ctx, step.Base)

	rawInputs, err := starlarkIterable2stringSlice(inputs, "inputs")
	if err != nil {
		return nil, err
	}

	step.Inputs = make([]string, len(rawInputs))
	for idx, input := range rawInputs {
		step.Inputs[idx] = normalizePath(ctx, input)
	}

	step.Env = map[string]string{}
	if env != nil {
		for _, item := range env.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, eris.Errorf("found key type %s in env map but only strings are supported", item[0].Type())
			}

			value, err := starlarkString(item[1], "env value "+key.GoString())
			if err != nil {
				return nil, err
			}
			step.Env[key.GoString()] = value
		}
	}

	step.Cmds = make([]string, 0)
	if cmds != nil {
		iter := cmds.Iterate()
		defer iter.Done()

		var item starlark.Value
		idx := 0
		for iter.Next(&item) {
			switch value := item.(type) {
			case starlark.String:
				step.Cmds = append(step.Cmds, value.GoString())
			case starlark.Tuple:
				cmd, err := processCmdParts(value, step.Base)
				if err != nil {
					return nil, eris.Wrapf(err, "failed to process command #%d", idx)
				}
				step.Cmds = append(step.Cmds, cmd)
			case *starlark.List:
				parts := make([]starlark.Value, value.Len())
				for subIdx := range parts {
					parts[subIdx] = value.Index(subIdx)
				}

				cmd, err := processCmdParts(parts, step.Base)
				if err != nil {
					return nil, eris.Wrapf(err, "failed to process command #%d", idx)
				}
				step.Cmds = append(step.Cmds, cmd)
			default:
				return nil, eris.Errorf("%s: unexpected type %s. Only strings, tuples and lists are valid", fn.Name(), item.Type())
			}

			idx++
		}
	}

	if len(step.Cmds) == 0 {
		warn(thread, "%s: step %q has no commands", fn.Name(), step.Desc)
	}

	ctx.steps = append(ctx.steps, step)
	return StarlarkPath(step.Target), nil
}

// Parse executes a build script and returns the declared steps in declaration order
func Parse(ctx context.Context, filename, projectRoot string, options map[string]string) (*Script, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, err
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, err
	}

	builtins := starlark.StringDict{
		"OS":           starlark.String(runtime.GOOS),
		"ARCH":         starlark.String(runtime.GOARCH),
		"info":         starlark.NewBuiltin("info", starInfo),
		"warn":         starlark.NewBuiltin("warn", starWarn),
		"error":        starlark.NewBuiltin("error", starError),
		"resolve_path": starlark.NewBuiltin("resolve_path", resolvePath),
		"option":       starlark.NewBuiltin("option", option),
		"getenv":       starlark.NewBuiltin("getenv", getenv),
		"setenv":       starlark.NewBuiltin("setenv", setenv),
		"prepend_path": starlark.NewBuiltin("prepend_path", prependPathDir),
		"read_yaml":    starlark.NewBuiltin("read_yaml", readYaml),
		"isdir":        starlark.NewBuiltin("isdir", starIsdir),
		"isfile":       starlark.NewBuiltin("isfile", starIsfile),
		"execute":      starlark.NewBuiltin("execute", starExec),
		"mk_from":      starlark.NewBuiltin("mk_from", mkFrom),
	}

	threadCtx := parserCtx{
		ctx:          ctx,
		filepath:     filename,
		projectRoot:  projectRoot,
		options:      make(map[string]ScriptOption),
		optionValues: options,
		envOverrides: make(map[string]string),
		steps:        make(StepList, 0),
		yamlCache:    make(map[string]interface{}),
	}
	if threadCtx.optionValues == nil {
		threadCtx.optionValues = map[string]string{}
	}

	shortName := simplifyPath(projectRoot, filename)
	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			build.Log(ctx).Info().Str("path", shortName).Msg(msg)
		},
	}
	thread.SetLocal("parserCtx", &threadCtx)

	script, err := os.ReadFile(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read file")
	}
	threadCtx.addSource(filename)

	_, err = starlark.ExecFile(thread, shortName, script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.Errorf("failed to execute %s:\n%s", shortName, evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed to execute %s", shortName)
	}

	for _, step := range threadCtx.steps {
		for name, value := range threadCtx.envOverrides {
			_, present := step.Env[name]
			if !present {
				step.Env[name] = value
			}
		}
	}

	for name := range threadCtx.optionValues {
		if _, ok := threadCtx.options[name]; !ok {
			build.Log(ctx).Warn().Str("path", shortName).Msgf("option %s was passed but the script doesn't declare it", name)
		}
	}

	return &Script{
		Steps:   threadCtx.steps,
		Options: threadCtx.options,
		Sources: threadCtx.sources,
	}, nil
}
