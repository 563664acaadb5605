package build

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
)

// rootMarkers identify the project root, in order of precedence
var rootMarkers = []string{ConfigFile, "mk.star", "go.mod", ".git"}

// Build describes the environment a build step runs in
type Build struct {
	Root    Dir
	Out     Dir
	Profile string
	cfg     *Config
}

// FindUp looks for name in start and its parents and returns the directory containing it
func FindUp(start, name string) (string, error) {
	dir := filepath.Clean(start)
	for {
		_, err := os.Stat(filepath.Join(dir, name))
		if err == nil {
			return dir, nil
		}

		if !os.IsNotExist(err) {
			return "", eris.Wrapf(err, "failed to check %s", filepath.Join(dir, name))
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", eris.Wrapf(os.ErrNotExist, "%s not found in %s or any parent", name, start)
		}
		dir = parent
	}
}

// FindRoot returns the closest directory above start that looks like a project root
func FindRoot(start string) (string, error) {
	for _, marker := range rootMarkers {
		root, err := FindUp(start, marker)
		if err == nil {
			return root, nil
		}

		if !eris.Is(err, os.ErrNotExist) {
			return "", err
		}
	}

	return "", eris.Errorf("could not find the project root for %s", start)
}

// New loads the build environment for the project containing the working directory
func New(ctx context.Context) (*Build, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, eris.Wrap(err, "failed to determine working directory")
	}

	root, err := FindRoot(cwd)
	if err != nil {
		return nil, err
	}

	b, err := Load(root)
	if err != nil {
		return nil, err
	}

	Log(ctx).Debug().Str("path", b.Root.Path()).Msgf("Using profile %s", b.Profile)
	return b, nil
}

// Load loads the build environment for the project at root
func Load(root string) (*Build, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %s", root)
	}

	rootDir, err := NewDir(absRoot)
	if err != nil {
		return nil, err
	}

	cfg, err := LoadConfig(rootDir.Path())
	if err != nil {
		return nil, err
	}

	out, err := rootDir.Dir(cfg.OutDir)
	if err != nil {
		return nil, eris.Wrap(err, "invalid output directory")
	}

	return &Build{
		Root:    rootDir,
		Out:     out,
		Profile: cfg.Profile,
		cfg:     cfg,
	}, nil
}

// Config returns the configuration the environment was loaded from
func (b *Build) Config() *Config {
	return b.cfg
}

// GOOS returns the target operating system
func (b *Build) GOOS() string {
	if goos := os.Getenv("GOOS"); goos != "" {
		return goos
	}
	return runtime.GOOS
}

// GOARCH returns the target architecture
func (b *Build) GOARCH() string {
	if goarch := os.Getenv("GOARCH"); goarch != "" {
		return goarch
	}
	return runtime.GOARCH
}

// Package returns the package name passed by go generate or an empty string
func (b *Build) Package() string {
	return os.Getenv("GOPACKAGE")
}

// SourceFile returns the file containing the current go:generate directive or an empty string
func (b *Build) SourceFile() string {
	return os.Getenv("GOFILE")
}

// GoCmd returns a command for the go tool that's running the build
func (b *Build) GoCmd() Cmd {
	if goroot := os.Getenv("GOROOT"); goroot != "" {
		return NewCmd(filepath.Join(goroot, "bin", "go"))
	}
	return NewCmd("go")
}

func (b *Build) IsRelease() bool {
	return b.Profile == "release"
}

// HasFeature reports whether the named feature is enabled through the configuration
func (b *Build) HasFeature(name string) bool {
	name = envName(name)
	for _, feature := range b.cfg.Features {
		if envName(feature) == name {
			return true
		}
	}

	return false
}

func (b *Build) Jobs() int {
	return b.cfg.JobCount()
}

// Cfg returns the value of DEVBOX_CFG_<NAME>
func (b *Build) Cfg(name string) (string, bool) {
	return os.LookupEnv("DEVBOX_CFG_" + envName(name))
}

func envName(name string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(name)), "-", "_")
}
