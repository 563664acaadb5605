package build

import (
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
)

// expandPatterns resolves glob patterns on Windows where the calling shell doesn't do it for us
func expandPatterns(items []string, allowEmpty bool) ([]string, error) {
	if runtime.GOOS != "windows" {
		return items, nil
	}

	result := make([]string, 0, len(items))
	for _, item := range items {
		matches, err := filepath.Glob(item)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", item)
		}

		if matches == nil {
			if allowEmpty {
				continue
			}
			return nil, eris.Errorf("pattern %s produced no matches", item)
		}

		result = append(result, matches...)
	}

	return result, nil
}

// Move moves items into dest. If there's more than one item, dest has to be a directory.
func Move(items []string, dest string) error {
	if len(items) < 1 {
		return eris.New("not enough parameters")
	}

	dest = filepath.Clean(dest)
	destParent := filepath.Dir(dest)
	info, err := os.Stat(destParent)
	if err != nil {
		return eris.Wrapf(err, "could not find destination directory %s", destParent)
	}

	if !info.IsDir() {
		return eris.Errorf("%s is not a directory", destParent)
	}

	destIsDir := false
	info, err = os.Stat(dest)
	if err == nil {
		destIsDir = info.IsDir()
	} else if !os.IsNotExist(err) {
		return eris.Wrapf(err, "failed to retrieve info about destination %s", dest)
	}

	items, err = expandPatterns(items, false)
	if err != nil {
		return err
	}

	if len(items) > 1 && !destIsDir {
		return eris.Errorf("can't move multiple items to %s because it is not a directory", dest)
	}

	for _, item := range items {
		itemDest := dest
		if destIsDir {
			itemDest = filepath.Join(dest, filepath.Base(item))
		}

		err = os.Rename(item, itemDest)
		if err != nil {
			return eris.Wrapf(err, "failed to move %s to %s", item, itemDest)
		}
	}

	return nil
}

// Remove deletes items. Directories are only removed if recursive is set. force ignores missing
// items.
func Remove(items []string, recursive, force bool) error {
	items, err := expandPatterns(items, force)
	if err != nil {
		return err
	}

	existing := make([]string, 0, len(items))
	for _, item := range items {
		info, err := os.Lstat(item)
		if err != nil {
			if force && os.IsNotExist(err) {
				continue
			}
			return eris.Wrapf(err, "could not stat %s", item)
		}

		if info.IsDir() && !recursive {
			return eris.Errorf("%s is a directory but recursive removal wasn't requested", item)
		}

		existing = append(existing, item)
	}

	for _, item := range existing {
		err := os.RemoveAll(item)
		if err != nil {
			return eris.Wrapf(err, "could not delete %s", item)
		}
	}

	return nil
}

// Mkdir creates the given directories. With parents set, missing parents are created and
// existing directories are accepted.
func Mkdir(items []string, parents bool) error {
	for _, item := range items {
		var err error
		if parents {
			err = os.MkdirAll(item, 0770)
		} else {
			err = os.Mkdir(item, 0770)
		}

		if err != nil {
			return eris.Wrapf(err, "failed to create %s", item)
		}
	}

	return nil
}

type posixBuiltin func(dir string, args []string) error

var posixBuiltins = map[string]posixBuiltin{
	"mv":    shellMv,
	"rm":    shellRm,
	"mkdir": shellMkdir,
}

func absPaths(dir string, items []string) []string {
	result := make([]string, len(items))
	for idx, item := range items {
		if filepath.IsAbs(item) {
			result[idx] = item
		} else {
			result[idx] = filepath.Join(dir, item)
		}
	}

	return result
}

func newFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	// errors are reported by the exec handler
	flags.SetOutput(io.Discard)
	return flags
}

func shellMv(dir string, args []string) error {
	flags := newFlagSet("mv")
	// accepted for compatibility, mv never prompts
	flags.BoolP("force", "f", false, "")
	err := flags.Parse(args)
	if err != nil {
		return err
	}

	paths := absPaths(dir, flags.Args())
	if len(paths) < 2 {
		return eris.New("not enough parameters")
	}

	return Move(paths[:len(paths)-1], paths[len(paths)-1])
}

func shellRm(dir string, args []string) error {
	flags := newFlagSet("rm")
	recursive := flags.BoolP("recursive", "r", false, "")
	force := flags.BoolP("force", "f", false, "")
	err := flags.Parse(args)
	if err != nil {
		return err
	}

	return Remove(absPaths(dir, flags.Args()), *recursive, *force)
}

func shellMkdir(dir string, args []string) error {
	flags := newFlagSet("mkdir")
	parents := flags.BoolP("parents", "p", false, "")
	err := flags.Parse(args)
	if err != nil {
		return err
	}

	return Mkdir(absPaths(dir, flags.Args()), *parents)
}
