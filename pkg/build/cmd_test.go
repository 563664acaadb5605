package build

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCmdCopies(t *testing.T) {
	base := NewCmd("tool").Arg("--verbose")
	install := base.Arg("install")
	build := base.Args("run", "build")

	assert.Equal(t, "tool --verbose", base.String())
	assert.Equal(t, "tool --verbose install", install.String())
	assert.Equal(t, "tool --verbose run build", build.String())

	withEnv := base.Env("A", "1")
	assert.Empty(t, base.env)
	assert.Equal(t, map[string]string{"A": "1"}, withEnv.env)
}

func TestCmdString(t *testing.T) {
	assert.Equal(t, `echo "hello world" "" plain`, NewCmd("echo").Args("hello world", "", "plain").String())
	assert.Equal(t, "echo $HOME | cat", Shell("echo $HOME | cat").String())
}

func TestCmdOutputPassesArgsVerbatim(t *testing.T) {
	out, err := NewCmd("echo").Args("hello", "$HOME", "*").Output(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello $HOME *\n", string(out))
}

func TestShellEnvAndWorkDir(t *testing.T) {
	dir := t.TempDir()

	out, err := Shell("echo $GREETING; pwd").Env("GREETING", "hi").WorkDir(dir).Output(context.Background())
	require.NoError(t, err)

	realDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Equal(t, "hi", string(lines[0]))
	assert.Contains(t, []string{dir, realDir}, string(lines[1]))
}

func TestCmdFailure(t *testing.T) {
	err := Shell("exit 3").Stdio(nil, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command exit 3 failed")

	// -e stops at the first failing command
	out, err := Shell("false\necho unreachable").Stdio(nil, nil).Output(context.Background())
	require.Error(t, err)
	assert.Empty(t, out)

	_, err = Shell("if then").Output(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse command")

	err = Cmd{}.Run(context.Background())
	require.Error(t, err)
}

func TestCmdStdio(t *testing.T) {
	stdout := bytes.Buffer{}
	stderr := bytes.Buffer{}

	err := Shell("echo out; echo err >&2").Stdio(&stdout, &stderr).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "out\n", stdout.String())
	assert.Equal(t, "err\n", stderr.String())
}

func TestCmdPosixBuiltins(t *testing.T) {
	dir := t.TempDir()
	stderr := bytes.Buffer{}
	script := Shell("mkdir -p a/b c && echo data > a/b/file.txt && mv a/b/file.txt c && rm -r a").
		WorkDir(dir).
		Stdio(nil, &stderr)

	require.NoError(t, script.Run(context.Background()), stderr.String())
	assert.NoDirExists(t, filepath.Join(dir, "a"))

	content, err := os.ReadFile(filepath.Join(dir, "c", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data\n", string(content))

	err = Shell("rm missing").WorkDir(dir).Stdio(nil, &stderr).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, stderr.String(), "rm: could not stat")

	require.NoError(t, Shell("rm -f missing").WorkDir(dir).Run(context.Background()))
}

func TestCmdDevNull(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("redirects are only mapped, the test needs a POSIX shell environment")
	}

	out, err := Shell("echo hidden > /dev/null; echo shown").Output(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "shown\n", string(out))
}

func TestCmdLogsExecution(t *testing.T) {
	buffer := bytes.Buffer{}
	logger := zerolog.New(&buffer)
	ctx := WithLogger(context.Background(), &logger)

	_, err := NewCmd("echo").Arg("hi").Output(ctx)
	require.NoError(t, err)
	assert.Contains(t, buffer.String(), "Executing: echo hi")
	assert.Contains(t, buffer.String(), `"command":true`)
}

func TestMergeEnv(t *testing.T) {
	env := mergeEnv([]string{"A=1", "B=2", "PATH=/bin"}, map[string]string{"B": "3", "C": "4"})
	assert.Equal(t, []string{"A=1", "PATH=/bin", "B=3", "C=4"}, env)
}

func TestMergeEnvWindowsNames(t *testing.T) {
	inherited := []string{"Path=C:\\Windows", "TEMP=C:\\Temp"}

	env := mergeEnvFor("windows", inherited, map[string]string{"PATH": "C:\\bin"})
	assert.Equal(t, []string{"TEMP=C:\\Temp", "PATH=C:\\bin"}, env)

	env = mergeEnvFor("windows", inherited, map[string]string{"Path": "C:\\bin", "temp": "D:\\"})
	assert.Equal(t, []string{"Path=C:\\bin", "temp=D:\\"}, env)

	env = mergeEnvFor("linux", inherited, map[string]string{"PATH": "/bin"})
	assert.Equal(t, []string{"Path=C:\\Windows", "TEMP=C:\\Temp", "PATH=/bin"}, env)
}
