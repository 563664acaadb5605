package build

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Cmd describes an external command. All modifiers return a modified copy which makes it easy to
// configure a command once and run it with different arguments later:
//
//	npm := build.NewCmd("npm").Arg("--prefix").Arg(web.Path())
//	err := npm.Arg("install").Run(ctx)
//	...
//	err = npm.Args("run", "build").Run(ctx)
//
// Commands are executed through an embedded POSIX shell interpreter. mv, rm and mkdir always use
// the cross-platform implementations from this package (see Move, Remove and Mkdir).
type Cmd struct {
	program string
	args    []string
	script  string
	env     map[string]string
	dir     string
	stdout  io.Writer
	stderr  io.Writer
}

// NewCmd returns a command that launches program
func NewCmd(program string) Cmd {
	return Cmd{program: program}
}

// Shell returns a command that interprets the given shell script
func Shell(script string) Cmd {
	return Cmd{script: script}
}

// Arg appends an argument
func (c Cmd) Arg(arg string) Cmd {
	return c.Args(arg)
}

// Args appends several arguments
func (c Cmd) Args(args ...string) Cmd {
	newArgs := make([]string, len(c.args), len(c.args)+len(args))
	copy(newArgs, c.args)
	c.args = append(newArgs, args...)
	return c
}

// Env sets an environment variable for the command
func (c Cmd) Env(key, value string) Cmd {
	env := make(map[string]string, len(c.env)+1)
	for k, v := range c.env {
		env[k] = v
	}
	env[key] = value
	c.env = env
	return c
}

// WorkDir sets the command's working directory
func (c Cmd) WorkDir(dir string) Cmd {
	c.dir = dir
	return c
}

// Stdio redirects the command's output. nil discards the stream.
func (c Cmd) Stdio(stdout, stderr io.Writer) Cmd {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	c.stdout = stdout
	c.stderr = stderr
	return c
}

func (c Cmd) String() string {
	if c.script != "" {
		return c.script
	}

	parts := make([]string, 0, len(c.args)+1)
	for _, part := range append([]string{c.program}, c.args...) {
		if part == "" || strings.ContainsAny(part, " \t\n'\"$\\") {
			part = strconv.Quote(part)
		}
		parts = append(parts, part)
	}

	return strings.Join(parts, " ")
}

// Run executes the command and fails if it exits with a non-zero status
func (c Cmd) Run(ctx context.Context) error {
	stdout, stderr := c.stdout, c.stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	return c.run(ctx, stdout, stderr)
}

// Output executes the command and returns its standard output
func (c Cmd) Output(ctx context.Context) ([]byte, error) {
	stderr := c.stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	buffer := bytes.Buffer{}
	err := c.run(ctx, &buffer, stderr)
	return buffer.Bytes(), err
}

func (c Cmd) nodes() ([]syntax.Node, error) {
	if c.script != "" {
		file, err := syntax.NewParser().Parse(strings.NewReader(c.script), "script")
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse command %s", c.script)
		}

		nodes := make([]syntax.Node, len(file.Stmts))
		for idx, stmt := range file.Stmts {
			nodes[idx] = stmt
		}
		return nodes, nil
	}

	if c.program == "" {
		return nil, eris.New("command has neither a program nor a script")
	}

	// Single quoted words are passed through as-is: no globbing, no variable expansion.
	call := new(syntax.CallExpr)
	for _, arg := range append([]string{c.program}, c.args...) {
		word := new(syntax.Word)
		word.Parts = []syntax.WordPart{&syntax.SglQuoted{Value: arg}}
		call.Args = append(call.Args, word)
	}

	return []syntax.Node{call}, nil
}

func (c Cmd) run(ctx context.Context, stdout, stderr io.Writer) error {
	nodes, err := c.nodes()
	if err != nil {
		return err
	}

	dir := c.dir
	if dir == "" {
		dir, err = os.Getwd()
		if err != nil {
			return eris.Wrap(err, "failed to determine working directory")
		}
	}

	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(mergeEnv(os.Environ(), c.env)...)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, stdout, stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize runner")
	}

	Log(ctx).Info().Bool("command", true).Msgf("Executing: %s", c)
	for _, node := range nodes {
		err = runner.Run(ctx, node)
		if err != nil {
			return eris.Wrapf(err, "command %s failed", c)
		}

		if runner.Exited() {
			break
		}
	}

	return nil
}

// mergeEnv appends overrides to env, dropping the entries they replace
func mergeEnv(env []string, overrides map[string]string) []string {
	return mergeEnvFor(runtime.GOOS, env, overrides)
}

// mergeEnvFor is mergeEnv for goos. Windows treats variable names case-insensitively.
func mergeEnvFor(goos string, env []string, overrides map[string]string) []string {
	envName := func(name string) string {
		if goos == "windows" {
			return strings.ToUpper(name)
		}
		return name
	}

	replaced := make(map[string]bool, len(overrides))
	for name := range overrides {
		replaced[envName(name)] = true
	}

	result := make([]string, 0, len(env)+len(overrides))
	for _, item := range env {
		parts := strings.SplitN(item, "=", 2)

		// skip overriden entries to avoid conflicts
		if !replaced[envName(parts[0])] {
			result = append(result, item)
		}
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		result = append(result, fmt.Sprintf("%s=%s", name, overrides[name]))
	}

	return result
}

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		builtin, ok := posixBuiltins[args[0]]
		if ok {
			hc := interp.HandlerCtx(ctx)
			err := builtin(hc.Dir, args[1:])
			if err != nil {
				fmt.Fprintf(hc.Stderr, "%s: %s\n", args[0], err.Error())
				return interp.NewExitStatus(1)
			}

			return nil
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}
