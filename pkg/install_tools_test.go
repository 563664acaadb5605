package pkg

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/devbox/pkg/build"
)

func TestToolImports(t *testing.T) {
	root := build.MustDir(t.TempDir())
	tools := root.MustFile("tools.go")
	require.NoError(t, tools.Rewrite([]byte(`//go:build tools

package tools

import (
	_ "github.com/golang/protobuf/protoc-gen-go"
	_ "github.com/twitchtv/twirp/protoc-gen-twirp"
)
`)))

	deps, err := ToolImports(tools)
	require.NoError(t, err)
	assert.Equal(t, []string{"github.com/golang/protobuf/protoc-gen-go", "github.com/twitchtv/twirp/protoc-gen-twirp"}, deps)

	require.NoError(t, tools.Rewrite([]byte("package")))
	_, err = ToolImports(tools)
	assert.ErrorContains(t, err, "failed to parse")
}

func TestInstallToolsFailure(t *testing.T) {
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go is not in PATH")
	}
	t.Setenv("GOFLAGS", "-mod=readonly")
	t.Setenv("GOPROXY", "off")
	t.Setenv("GOTOOLCHAIN", "local")

	root := build.MustDir(t.TempDir())
	require.NoError(t, root.MustFile("go.mod").Rewrite([]byte("module example.com/tools\n\ngo 1.21\n")))
	tools := root.MustFile("tools.go")
	require.NoError(t, tools.Rewrite([]byte("//go:build tools\n\npackage tools\n\nimport _ \"example.invalid/tool\"\n")))

	b, err := build.Load(root.Path())
	require.NoError(t, err)

	buffer := bytes.Buffer{}
	Output = &buffer
	defer func() { Output = os.Stdout }()

	err = InstallTools(context.Background(), b, tools, root.MustDir(".tools"))
	assert.ErrorContains(t, err, "failed to install example.invalid/tool")
	assert.Contains(t, buffer.String(), "example.invalid/tool")
	assert.Contains(t, buffer.String(), "failed to install example.invalid/tool")
}
