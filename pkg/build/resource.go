package build

import "time"

// Resource is anything with a modification time. Timestamp reports false if the resource
// doesn't exist (or can't be inspected).
type Resource interface {
	Timestamp() (time.Time, bool)
}

// Set is an ordered collection of resources. Its timestamp is the newest timestamp of its members.
type Set[T Resource] []T

// Timestamp returns the newest timestamp among the members that have one
func (s Set[T]) Timestamp() (time.Time, bool) {
	var newest time.Time
	found := false

	for _, item := range s {
		ts, ok := item.Timestamp()
		if ok && (!found || ts.After(newest)) {
			newest = ts
			found = true
		}
	}

	return newest, found
}

// Join combines files and directories into a single set
func Join(units ...Unit) Set[Unit] {
	return Set[Unit](units)
}

// Files combines several files into a set
func Files(files ...File) Set[File] {
	return Set[File](files)
}

// Dirs combines several directories into a set
func Dirs(dirs ...Dir) Set[Dir] {
	return Set[Dir](dirs)
}

// All combines arbitrary resources (i.e. files and directory listings) into a set
func All(resources ...Resource) Set[Resource] {
	return Set[Resource](resources)
}
