package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/ngld/devbox/pkg/testargs"
)

func writeScript(t *testing.T, root, content string) string {
	t.Helper()

	path := filepath.Join(root, "mk.star")
	require.NoError(t, os.WriteFile(path, []byte(content), 0660))
	return path
}

func parseScript(t *testing.T, content string, options map[string]string) (string, *Script) {
	t.Helper()

	root := t.TempDir()
	script, err := Parse(context.Background(), writeScript(t, root, content), root, options)
	require.NoError(t, err)
	return root, script
}

func TestParseSteps(t *testing.T) {
	root, script := parseScript(t, `
mode = option("mode", "debug", "build mode")
setenv("GREETING", "hi")
setenv("MODE", "overridden")

out = mk_from(
    desc = "generate",
    target = "//build/out.txt",
    inputs = ["src/*.txt", "//VERSION"],
    cmds = [
        "echo $GREETING > out.txt",
        ("cp", resolve_path("src/a.txt"), "copy.txt"),
        ["MODE=" + mode, "make", "all"],
    ],
    env = {"MODE": mode},
    base = "//build",
)

mk_from("assets", "dist", inputs = [out], kind = "dir")
`, map[string]string{"mode": "release"})

	require.Len(t, script.Steps, 2)

	step := script.Steps[0]
	assert.Equal(t, "generate", step.Desc)
	assert.Equal(t, "file", step.Kind)
	assert.Equal(t, filepath.Join(root, "build", "out.txt"), step.Target)
	assert.Equal(t, filepath.Join(root, "build"), step.Base)
	assert.Equal(t, []string{filepath.Join(root, "src", "*.txt"), filepath.Join(root, "VERSION")}, step.Inputs)
	assert.Equal(t, map[string]string{"MODE": "release", "GREETING": "hi"}, step.Env)
	assert.Equal(t, []string{
		"echo $GREETING > out.txt",
		"cp ../src/a.txt copy.txt",
		"MODE=release make all",
	}, step.Cmds)

	dist := script.Steps[1]
	assert.Equal(t, "dir", dist.Kind)
	assert.Equal(t, filepath.Join(root, "dist"), dist.Target)
	assert.Equal(t, []string{step.Target}, dist.Inputs)
	assert.Equal(t, root, dist.Base)
	assert.Equal(t, map[string]string{"MODE": "overridden", "GREETING": "hi"}, dist.Env)
	assert.Empty(t, dist.Cmds)

	require.Contains(t, script.Options, "mode")
	assert.Equal(t, "debug", script.Options["mode"].Default())
	assert.Equal(t, "build mode", script.Options["mode"].Help)
	assert.Equal(t, []string{filepath.Join(root, "mk.star")}, script.Sources)
}

func TestParseOptionDefault(t *testing.T) {
	_, script := parseScript(t, `
mk_from(option("name", "fallback"), "out")
`, nil)

	require.Len(t, script.Steps, 1)
	assert.Equal(t, "fallback", script.Steps[0].Desc)
}

func TestParseErrors(t *testing.T) {
	testargs.Run(t, func(t *testing.T, content, msg string) {
		root := t.TempDir()
		_, err := Parse(context.Background(), writeScript(t, root, content), root, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), msg)
	}, testargs.Group{
		testargs.C("kind", `mk_from("x", "out", kind = "socket")`, `unknown kind "socket"`),
		testargs.C("error", `error("giving up")`, "giving up"),
		testargs.C("syntax", `mk_from(`, "failed to execute"),
		testargs.C("cmd_type", `mk_from("x", "out", cmds = [1])`, "Only strings, tuples and lists are valid"),
		testargs.C("empty_argv", `mk_from("x", "out", cmds = [()])`, "command is empty"),
		testargs.C("input_type", `mk_from("x", "out", inputs = [1])`, "expected inputs to be a string or path"),
		testargs.C("env_type", `mk_from("x", "out", env = {"A": 1})`, "env value A"),
	})
}

func TestParseMissingScript(t *testing.T) {
	root := t.TempDir()
	_, err := Parse(context.Background(), filepath.Join(root, "mk.star"), root, nil)
	assert.ErrorContains(t, err, "failed to read file")
}

func TestProcessCmdParts(t *testing.T) {
	cmd, err := processCmdParts(starlark.Tuple{
		starlark.String("CC=gcc -O2"),
		starlark.String("make"),
		starlark.String("a b"),
		starlark.String("it's"),
		starlark.String("X=1"),
		StarlarkPath("/base/src/main.c"),
	}, "/base")
	require.NoError(t, err)
	assert.Equal(t, `CC='gcc -O2' make 'a b' 'it'\''s' X=1 src/main.c`, cmd)

	_, err = processCmdParts(starlark.Tuple{starlark.String("A=1")}, "/base")
	assert.ErrorContains(t, err, "command is empty")

	_, err = processCmdParts(starlark.Tuple{starlark.MakeInt(1)}, "/base")
	assert.ErrorContains(t, err, "only strings and paths are supported")
}

func TestReadYaml(t *testing.T) {
	root := t.TempDir()
	yamlPath := filepath.Join(root, "config.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
app:
  name: demo
  ports: [80, 443]
  debug: true
`), 0660))

	script, err := Parse(context.Background(), writeScript(t, root, `
name = read_yaml("config.yml", "app.name", "")
port = read_yaml("config.yml", "app.ports.1", 0)
debug = read_yaml("config.yml", "app.debug", False)
missing = read_yaml("config.yml", "app.ports.7", "fallback")
nested = read_yaml("config.yml", "app.name.first", "none")
mk_from("%s-%d-%s-%s" % (name, port, debug, missing), "out")
`), root, nil)
	require.Error(t, err, "descending into a string is an error")
	assert.Contains(t, err.Error(), "unexpected value of kind string")
	assert.Nil(t, script)

	script, err = Parse(context.Background(), writeScript(t, root, `
name = read_yaml("config.yml", "app.name", "")
port = read_yaml("config.yml", "app.ports.1", 0)
debug = read_yaml("config.yml", "app.debug", False)
missing = read_yaml("config.yml", "app.ports.7", "fallback")
mk_from("%s-%d-%s-%s" % (name, port, debug, missing), "out")
`), root, nil)
	require.NoError(t, err)

	require.Len(t, script.Steps, 1)
	assert.Equal(t, "demo-443-True-fallback", script.Steps[0].Desc)
	assert.Equal(t, []string{filepath.Join(root, "mk.star"), yamlPath}, script.Sources)
}

func TestExecute(t *testing.T) {
	_, script := parseScript(t, `
setenv("WHO", "world")
out = execute("echo hello $WHO")
data = execute("echo '{\"items\": [1, 2], \"ok\": true}'", format = "json")
failed = execute("exit 3")
mk_from("%s|%d|%s|%s" % (out.strip(), data["items"][1], data["ok"], failed), "out")
`, nil)

	require.Len(t, script.Steps, 1)
	assert.Equal(t, "hello world|2|True|False", script.Steps[0].Desc)
}

func TestPathBuiltins(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0770))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "a.txt"), nil, 0660))

	script, err := Parse(context.Background(), writeScript(t, root, `
checks = [isdir("src"), isfile("src"), isfile("src/a.txt"), isdir("//missing")]
rel = resolve_path("//src/a.txt", base = "//build")
path = prepend_path("//tools/bin")
mk_from(" ".join([str(c) for c in checks]), "out", env = {"REL": rel, "PATH_SET": str(path == getenv("PATH"))})
`), root, nil)
	require.NoError(t, err)

	require.Len(t, script.Steps, 1)
	step := script.Steps[0]
	assert.Equal(t, "True False True False", step.Desc)
	assert.Equal(t, filepath.Join("..", "src", "a.txt"), step.Env["REL"])
	assert.Equal(t, "True", step.Env["PATH_SET"])
	assert.Contains(t, step.Env["PATH"], filepath.Join(root, "tools", "bin")+string(os.PathListSeparator))
}

func TestNormalizePath(t *testing.T) {
	ctx := &parserCtx{
		filepath:    filepath.FromSlash("/project/web/mk.star"),
		projectRoot: filepath.FromSlash("/project"),
	}

	testargs.Run(t, func(t *testing.T, parts []string, expected string) {
		assert.Equal(t, filepath.FromSlash(expected), normalizePath(ctx, parts...))
	}, testargs.Group{
		testargs.C("relative", []string{"src"}, "/project/web/src"),
		testargs.C("root", []string{"//build/out"}, "/project/build/out"),
		testargs.C("absolute", []string{"/usr/bin"}, "/usr/bin"),
		testargs.C("chained", []string{"//build", "sub"}, "/project/build/sub"),
		testargs.C("parent", []string{"../docs"}, "/project/docs"),
		testargs.C("empty", []string{}, "/project/web"),
	})
}

func TestSimplifyPath(t *testing.T) {
	root := filepath.FromSlash("/project")

	assert.Equal(t, "//web/mk.star", simplifyPath(root, filepath.FromSlash("/project/web/mk.star")))
	assert.Equal(t, "//", simplifyPath(root, root))
	assert.Equal(t, filepath.FromSlash("/projects/x"), simplifyPath(root, filepath.FromSlash("/projects/x")))
}
