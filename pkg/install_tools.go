package pkg

import (
	"context"
	"go/parser"
	"go/token"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/ngld/devbox/pkg/build"
)

// ToolImports returns the packages imported by a tools.go file. Such a file only exists to pin
// the versions of development tools in go.mod.
func ToolImports(toolsFile build.File) ([]string, error) {
	f, err := parser.ParseFile(token.NewFileSet(), toolsFile.Path(), nil, parser.ImportsOnly)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", toolsFile)
	}

	result := make([]string, 0, len(f.Imports))
	for _, spec := range f.Imports {
		dep, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid import %s in %s", spec.Path.Value, toolsFile)
		}
		result = append(result, dep)
	}

	return result, nil
}

// InstallTools runs "go install" for every package imported by toolsFile and places the
// binaries in binDir
func InstallTools(ctx context.Context, b *build.Build, toolsFile build.File, binDir build.Dir) error {
	deps, err := ToolImports(toolsFile)
	if err != nil {
		return err
	}

	goCmd := b.GoCmd().Arg("install").Env("GOBIN", binDir.Path()).WorkDir(toolsFile.Parent().Path())
	for _, dep := range deps {
		PrintSubtask(dep)

		err = goCmd.Arg(dep).Run(ctx)
		if err != nil {
			PrintError("failed to install " + dep)
			return eris.Wrapf(err, "failed to install %s", dep)
		}
	}

	return nil
}
