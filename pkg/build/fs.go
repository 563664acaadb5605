package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
)

// Unit is a file or a directory
type Unit interface {
	Resource
	Path() string
	Touch() error
	LinkFromInside(dir Dir) error
}

// File points to a (possibly missing) file. The path is always absolute and clean.
type File struct {
	path string
}

// Dir points to a (possibly missing) directory. The path is always absolute and clean.
type Dir struct {
	path string
}

// resolvePath lexically resolves "." and ".." elements. Unlike filepath.Clean it reports false
// if a ".." element would climb above the start of the path.
func resolvePath(path string) (string, bool) {
	vol := filepath.VolumeName(path)
	rest := filepath.ToSlash(path[len(vol):])

	parts := make([]string, 0, strings.Count(rest, "/")+1)
	for _, elem := range strings.Split(rest, "/") {
		switch elem {
		case "", ".":
		case "..":
			if len(parts) == 0 {
				return "", false
			}
			parts = parts[:len(parts)-1]
		default:
			parts = append(parts, elem)
		}
	}

	result := strings.Join(parts, "/")
	if strings.HasPrefix(rest, "/") {
		result = "/" + result
	}

	return vol + filepath.FromSlash(result), true
}

func absolutePath(path string) (string, error) {
	clean, ok := resolvePath(path)
	if !ok || !filepath.IsAbs(clean) {
		return "", eris.Wrapf(ErrNotAbsolute, "path %s is not absolute", path)
	}

	return clean, nil
}

func (d Dir) subPath(path string) (string, error) {
	if filepath.IsAbs(path) || filepath.VolumeName(path) != "" || strings.HasPrefix(filepath.ToSlash(path), "/") {
		return "", eris.Wrapf(ErrNotRelative, "path '%s' is not relative", path)
	}

	clean, ok := resolvePath(path)
	if !ok || clean == "" {
		return "", eris.Wrapf(ErrNotRelative, "path '%s' is not relative", path)
	}

	return filepath.Join(d.path, clean), nil
}

// * Dir

// NewDir returns a Dir for the given absolute path
func NewDir(path string) (Dir, error) {
	clean, err := absolutePath(path)
	if err != nil {
		return Dir{}, err
	}

	return Dir{path: clean}, nil
}

// MustDir is like NewDir but panics if the path is not absolute
func MustDir(path string) Dir {
	dir, err := NewDir(path)
	if err != nil {
		panic(err)
	}

	return dir
}

// Dir returns the sub directory at the given relative path
func (d Dir) Dir(path string) (Dir, error) {
	sub, err := d.subPath(path)
	if err != nil {
		return Dir{}, err
	}

	return Dir{path: sub}, nil
}

// MustDir is like Dir but panics if the path is invalid
func (d Dir) MustDir(path string) Dir {
	sub, err := d.Dir(path)
	if err != nil {
		panic(err)
	}

	return sub
}

// File returns the file at the given relative path
func (d Dir) File(path string) (File, error) {
	sub, err := d.subPath(path)
	if err != nil {
		return File{}, err
	}

	return File{path: sub}, nil
}

// MustFile is like File but panics if the path is invalid
func (d Dir) MustFile(path string) File {
	file, err := d.File(path)
	if err != nil {
		panic(err)
	}

	return file
}

func (d Dir) Path() string {
	return d.path
}

func (d Dir) String() string {
	return d.path
}

// Timestamp returns the directory's modification time
func (d Dir) Timestamp() (time.Time, bool) {
	return statTime(d.path)
}

// Create creates the directory and all missing parents. Existing directories are left alone.
func (d Dir) Create() error {
	err := os.MkdirAll(d.path, 0770)
	if err != nil {
		return eris.Wrapf(err, "could not create directory %s", d.path)
	}

	return nil
}

// Touch creates the directory if it's missing or updates its modification time otherwise
func (d Dir) Touch() error {
	return touch(d.path, d.Create)
}

// LinkTo creates a symlink at d pointing to target
func (d Dir) LinkTo(target Dir) error {
	return makeLink(d.path, target.path)
}

// LinkFromInside creates a symlink inside dir that has the same name as d and points to d
func (d Dir) LinkFromInside(dir Dir) error {
	return makeLink(filepath.Join(dir.path, filepath.Base(d.path)), d.path)
}

// MkFrom rebuilds d using action if d is missing or older than src. See MkFrom.
func (d Dir) MkFrom(ctx context.Context, description string, src Resource, action Action, opts ...MkOption) (bool, error) {
	return MkFrom(ctx, d, description, src, action, opts...)
}

// * File

// NewFile returns a File for the given absolute path
func NewFile(path string) (File, error) {
	clean, err := absolutePath(path)
	if err != nil {
		return File{}, err
	}

	return File{path: clean}, nil
}

func (f File) Path() string {
	return f.path
}

func (f File) String() string {
	return f.path
}

// Parent returns the directory containing f
func (f File) Parent() Dir {
	return Dir{path: filepath.Dir(f.path)}
}

// Timestamp returns the file's modification time
func (f File) Timestamp() (time.Time, bool) {
	return statTime(f.path)
}

// Create creates or truncates the file. Missing parent directories are created as well.
func (f File) Create() (*os.File, error) {
	err := f.Parent().Create()
	if err != nil {
		return nil, err
	}

	hdl, err := os.Create(f.path)
	if err != nil {
		return nil, eris.Wrapf(err, "could not create file %s", f.path)
	}

	return hdl, nil
}

// Open opens the file for reading
func (f File) Open() (*os.File, error) {
	hdl, err := os.Open(f.path)
	if err != nil {
		return nil, eris.Wrapf(err, "could not open file %s", f.path)
	}

	return hdl, nil
}

// Stat returns the file's metadata
func (f File) Stat() (os.FileInfo, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return nil, eris.Wrapf(err, "metadata query for %s failed", f.path)
	}

	return info, nil
}

// Touch creates an empty file if it's missing or updates its modification time otherwise
func (f File) Touch() error {
	return touch(f.path, func() error {
		hdl, err := f.Create()
		if err != nil {
			return err
		}

		return hdl.Close()
	})
}

// Rewrite replaces the file's content. The new content is written to a temporary file next to
// f first and then renamed so that readers never see a partially written file.
func (f File) Rewrite(content []byte) error {
	err := f.Parent().Create()
	if err != nil {
		return err
	}

	tmpPath := filepath.Join(filepath.Dir(f.path), "."+filepath.Base(f.path)+"."+nanoid.New()+".tmp")
	err = os.WriteFile(tmpPath, content, 0660)
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", tmpPath)
	}

	err = os.Rename(tmpPath, f.path)
	if err != nil {
		os.Remove(tmpPath)
		return eris.Wrapf(err, "failed to replace %s", f.path)
	}

	return nil
}

// LinkTo creates a symlink at f pointing to target
func (f File) LinkTo(target File) error {
	return makeLink(f.path, target.path)
}

// LinkFromInside creates a symlink inside dir that has the same name as f and points to f
func (f File) LinkFromInside(dir Dir) error {
	return makeLink(filepath.Join(dir.path, filepath.Base(f.path)), f.path)
}

// MkFrom rebuilds f using action if f is missing or older than src. See MkFrom.
func (f File) MkFrom(ctx context.Context, description string, src Resource, action Action, opts ...MkOption) (bool, error) {
	return MkFrom(ctx, f, description, src, action, opts...)
}

// * Helpers

func statTime(path string) (time.Time, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}

	return info.ModTime(), true
}

func touch(path string, create func() error) error {
	_, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return eris.Wrapf(err, "failed to check %s", path)
		}

		return create()
	}

	now := time.Now()
	err = os.Chtimes(path, now, now)
	if err != nil {
		return eris.Wrapf(err, "touching %s failed", path)
	}

	return nil
}

// makeLink creates a symlink at link pointing to target. An existing link to the same target is
// accepted, anything else at link's location is an error.
func makeLink(link, target string) error {
	err := os.MkdirAll(filepath.Dir(link), 0770)
	if err != nil {
		return eris.Wrapf(err, "creating link %s -> %s failed", link, target)
	}

	_, err = os.Lstat(link)
	if err == nil {
		current, err := os.Readlink(link)
		if err == nil && current == target {
			return nil
		}

		return eris.Wrapf(ErrLinkExists, "creating link %s -> %s failed", link, target)
	}
	if !os.IsNotExist(err) {
		return eris.Wrapf(err, "creating link %s -> %s failed", link, target)
	}

	err = os.Symlink(target, link)
	if err != nil {
		return eris.Wrapf(err, "creating link %s -> %s failed", link, target)
	}

	return nil
}
