package build

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rotisserie/eris"
)

type contentKind int

const (
	kindAll contentKind = iota
	kindDir
	kindFile
)

type matcher struct {
	pattern string
	include bool
}

// Content lists the entries below a directory that match a set of glob patterns. Patterns are
// matched against the slash separated path relative to the directory: "*" never crosses a "/",
// "**" matches any number of path elements.
//
// An entry is listed if it matches at least one included pattern and none of the excluded ones.
// Symlinks are followed but links pointing back to a directory that's currently being walked are
// skipped.
type Content struct {
	root     string
	kind     contentKind
	matchers []matcher
	err      error
}

func newContent(root string, kind contentKind, pattern string) Content {
	return Content{root: root, kind: kind}.add(pattern, true)
}

// Content lists files and directories below d matching pattern
func (d Dir) Content(pattern string) Content {
	return newContent(d.path, kindAll, pattern)
}

// Dirs lists directories below d matching pattern
func (d Dir) Dirs(pattern string) Content {
	return newContent(d.path, kindDir, pattern)
}

// Files lists files below d matching pattern
func (d Dir) Files(pattern string) Content {
	return newContent(d.path, kindFile, pattern)
}

func (c Content) add(pattern string, include bool) Content {
	if c.err == nil && !doublestar.ValidatePattern(pattern) {
		c.err = eris.Errorf("invalid glob pattern %s", pattern)
	}

	matchers := make([]matcher, len(c.matchers), len(c.matchers)+1)
	copy(matchers, c.matchers)
	c.matchers = append(matchers, matcher{pattern: pattern, include: include})
	return c
}

// Include adds another pattern to the listing
func (c Content) Include(pattern string) Content {
	return c.add(pattern, true)
}

// Exclude removes entries matching pattern from the listing
func (c Content) Exclude(pattern string) Content {
	return c.add(pattern, false)
}

func (c Content) matches(rel string) bool {
	matched := false
	for _, m := range c.matchers {
		ok, _ := doublestar.Match(m.pattern, rel)
		if !ok {
			continue
		}

		if !m.include {
			return false
		}
		matched = true
	}

	return matched
}

// maxDepth returns how deep the walk has to go to find every possible match or -1 if there's no
// limit.
func (c Content) maxDepth() int {
	depth := 0
	for _, m := range c.matchers {
		if !m.include {
			continue
		}

		if strings.Contains(m.pattern, "**") {
			return -1
		}

		elems := strings.Count(m.pattern, "/") + 1
		if elems > depth {
			depth = elems
		}
	}

	return depth
}

// List walks the directory and returns all matching entries
func (c Content) List() ([]Unit, error) {
	if c.err != nil {
		return nil, c.err
	}

	realRoot, err := filepath.EvalSymlinks(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []Unit{}, nil
		}
		return nil, eris.Wrapf(err, "failed to resolve %s", c.root)
	}

	w := walker{
		content:  c,
		maxDepth: c.maxDepth(),
		stack:    map[string]bool{realRoot: true},
		result:   make([]Unit, 0),
	}

	err = w.walk(c.root, "", 1)
	if err != nil {
		return nil, err
	}

	return w.result, nil
}

// Files returns the listed files
func (c Content) Files() ([]File, error) {
	units, err := c.List()
	if err != nil {
		return nil, err
	}

	result := make([]File, 0, len(units))
	for _, unit := range units {
		if file, ok := unit.(File); ok {
			result = append(result, file)
		}
	}

	return result, nil
}

// Dirs returns the listed directories
func (c Content) Dirs() ([]Dir, error) {
	units, err := c.List()
	if err != nil {
		return nil, err
	}

	result := make([]Dir, 0, len(units))
	for _, unit := range units {
		if dir, ok := unit.(Dir); ok {
			result = append(result, dir)
		}
	}

	return result, nil
}

// Timestamp returns the newest timestamp of all listed entries. A listing that can't be walked
// has no timestamp.
func (c Content) Timestamp() (time.Time, bool) {
	units, err := c.List()
	if err != nil {
		return time.Time{}, false
	}

	return Set[Unit](units).Timestamp()
}

type walker struct {
	content  Content
	maxDepth int
	stack    map[string]bool
	result   []Unit
}

func (w *walker) walk(dir, rel string, depth int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return eris.Wrapf(err, "failed to read directory %s", dir)
	}

	for _, entry := range entries {
		itemPath := filepath.Join(dir, entry.Name())
		itemRel := entry.Name()
		if rel != "" {
			itemRel = rel + "/" + entry.Name()
		}

		// follows symlinks; dangling links are skipped
		info, err := os.Stat(itemPath)
		if err != nil {
			continue
		}

		if !info.IsDir() {
			if w.content.kind != kindDir && w.content.matches(itemRel) {
				w.result = append(w.result, File{path: itemPath})
			}
			continue
		}

		realPath, err := filepath.EvalSymlinks(itemPath)
		if err != nil {
			continue
		}

		if w.stack[realPath] {
			// link cycle
			continue
		}

		if w.content.kind != kindFile && w.content.matches(itemRel) {
			w.result = append(w.result, Dir{path: itemPath})
		}

		if w.maxDepth >= 0 && depth >= w.maxDepth {
			continue
		}

		w.stack[realPath] = true
		err = w.walk(itemPath, itemRel, depth+1)
		delete(w.stack, realPath)
		if err != nil {
			return err
		}
	}

	return nil
}
