package build

import "github.com/rotisserie/eris"

var (
	// ErrNotAbsolute is returned when a root path is relative or climbs above the filesystem root.
	ErrNotAbsolute = eris.New("not an absolute path")
	// ErrNotRelative is returned when a sub path is absolute, empty or escapes its parent.
	ErrNotRelative = eris.New("not a relative sub path")
	// ErrLinkExists is returned when a link location is already taken by something else.
	ErrLinkExists = eris.New("link location is taken")
	// ErrNotProduced is returned by MkFrom when the action succeeded but the target file is missing.
	ErrNotProduced = eris.New("target was not produced")
)
