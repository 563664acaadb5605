package buildsys

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"

	"github.com/ngld/devbox/pkg/build"
)

// Inputs lists every file and pattern that influences the script: the files read during
// parsing followed by the inputs of all steps
func (s *Script) Inputs() []string {
	result := make([]string, 0, len(s.Sources))
	result = append(result, s.Sources...)
	for _, step := range s.Steps {
		result = append(result, step.Inputs...)
	}

	return result
}

// Targets lists the targets of all steps
func (s *Script) Targets() []string {
	result := make([]string, len(s.Steps))
	for idx, step := range s.Steps {
		result[idx] = step.Target
	}

	return result
}

// WatchDirs returns the existing directories which have to be observed to notice changes to the
// script's inputs. fsnotify isn't recursive which means that "**" patterns add every directory
// below their base.
func (s *Script) WatchDirs() ([]string, error) {
	dirs := map[string]bool{}
	for _, input := range s.Inputs() {
		if !hasMeta(input) {
			dirs[filepath.Dir(input)] = true
			continue
		}

		base, pattern := doublestar.SplitPattern(filepath.ToSlash(input))
		base = filepath.FromSlash(base)
		if !strings.Contains(pattern, "/") && !strings.Contains(pattern, "**") {
			dirs[base] = true
			continue
		}

		err := filepath.WalkDir(base, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}

			if entry.IsDir() {
				dirs[path] = true
			}
			return nil
		})
		if err != nil {
			return nil, eris.Wrapf(err, "failed to list directories for %s", input)
		}
	}

	result := make([]string, 0, len(dirs))
	for dir := range dirs {
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			result = append(result, dir)
		}
	}
	sort.Strings(result)

	return result, nil
}

func isIgnored(path string, ignore []string) bool {
	for _, item := range ignore {
		if path == item || strings.HasPrefix(path, item+string(filepath.Separator)) {
			return true
		}
	}

	return false
}

// Watcher observes a changing set of directories. Events that happen between two Wait calls are
// queued so that changes made while a build is running aren't lost.
type Watcher struct {
	fsw    *fsnotify.Watcher
	dirs   map[string]bool
	ignore []string
}

// NewWatcher creates a Watcher that doesn't observe anything yet
func NewWatcher() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eris.Wrap(err, "failed to create file watcher")
	}

	return &Watcher{fsw: fsw, dirs: map[string]bool{}}, nil
}

// Update makes the watcher observe exactly dirs and skip changes to paths in ignore (or below
// them). Directories that are already watched keep their pending events.
func (w *Watcher) Update(dirs, ignore []string) error {
	wanted := make(map[string]bool, len(dirs))
	for _, dir := range dirs {
		wanted[dir] = true
		if w.dirs[dir] {
			continue
		}

		err := w.fsw.Add(dir)
		if err != nil {
			return eris.Wrapf(err, "failed to watch %s", dir)
		}
		w.dirs[dir] = true
	}

	for dir := range w.dirs {
		if !wanted[dir] {
			// fails if the directory is already gone which is fine
			_ = w.fsw.Remove(dir)
			delete(w.dirs, dir)
		}
	}

	w.ignore = ignore
	return nil
}

// Wait blocks until a change happened and no further changes happened for debounce. The path
// of the last change is returned.
func (w *Watcher) Wait(ctx context.Context, debounce time.Duration) (string, error) {
	build.Log(ctx).Debug().Int("dirs", len(w.dirs)).Msg("Waiting for changes")

	changed := ""
	var settled <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return "", eris.New("file watcher was closed")
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			if isIgnored(event.Name, w.ignore) {
				continue
			}

			build.Log(ctx).Debug().Str("path", event.Name).Msgf("Detected change: %s", event.Op)
			changed = event.Name
			settled = time.After(debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return "", eris.New("file watcher was closed")
			}

			build.Log(ctx).Warn().Err(err).Msg("File watcher error")
		case <-settled:
			return changed, nil
		}
	}
}

// Close stops the watcher
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// WaitForChange blocks until a file inside dirs changes and no further changes happened for
// debounce. Changes to paths in ignore (or below them) are skipped. The path of the last change
// is returned.
func WaitForChange(ctx context.Context, dirs, ignore []string, debounce time.Duration) (string, error) {
	watcher, err := NewWatcher()
	if err != nil {
		return "", err
	}
	defer watcher.Close()

	err = watcher.Update(dirs, ignore)
	if err != nil {
		return "", err
	}

	return watcher.Wait(ctx, debounce)
}
