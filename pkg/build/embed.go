package build

import (
	"bytes"
	"context"
	"fmt"
	"go/format"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"unicode"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
)

// EmbedOptions configures the generated source file
type EmbedOptions struct {
	// Package is the package clause of the generated file
	Package string
	// Func is the name of the generated accessor function
	Func string
}

func (o EmbedOptions) validate() error {
	if !token.IsIdentifier(o.Package) {
		return eris.Errorf("invalid package name %q", o.Package)
	}

	if !token.IsIdentifier(o.Func) {
		return eris.Errorf("invalid function name %q", o.Func)
	}

	return nil
}

// Embed generates a Go source file which contains every file below src. The generated accessor
// function takes a slash separated path relative to src:
//
//	func <Func>(path string) ([]byte, bool)
//
// It is meant to be used as a MkFrom action with src.Files("**") as the source.
func Embed(ctx context.Context, src Dir, out File, opts EmbedOptions) error {
	err := opts.validate()
	if err != nil {
		return err
	}

	files, err := src.Files("**").Files()
	if err != nil {
		return err
	}

	type entry struct {
		name string
		data []byte
	}

	entries := make([]entry, 0, len(files))
	total := uint64(0)
	for _, file := range files {
		rel, err := filepath.Rel(src.Path(), file.Path())
		if err != nil {
			return eris.Wrapf(err, "failed to determine relative path for %s", file)
		}

		data, err := os.ReadFile(file.Path())
		if err != nil {
			return eris.Wrapf(err, "failed to read %s", file)
		}

		entries = append(entries, entry{name: filepath.ToSlash(rel), data: data})
		total += uint64(len(data))
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].name < entries[j].name
	})

	varName := unexported(opts.Func) + "Files"
	buffer := bytes.Buffer{}
	fmt.Fprintf(&buffer, "// Code generated by devbox embed. DO NOT EDIT.\n\npackage %s\n\n", opts.Package)
	fmt.Fprintf(&buffer, "var %s = map[string]string{\n", varName)
	for _, e := range entries {
		fmt.Fprintf(&buffer, "%s: %s,\n", strconv.Quote(e.name), strconv.Quote(string(e.data)))
	}
	buffer.WriteString("}\n\n")

	fmt.Fprintf(&buffer, "// %s returns the embedded content of path\n", opts.Func)
	fmt.Fprintf(&buffer, "func %s(path string) ([]byte, bool) {\n", opts.Func)
	fmt.Fprintf(&buffer, "data, ok := %s[path]\nif !ok {\nreturn nil, false\n}\n\nreturn []byte(data), true\n}\n", varName)

	source, err := format.Source(buffer.Bytes())
	if err != nil {
		return eris.Wrap(err, "failed to format generated code")
	}

	Log(ctx).Info().Str("path", out.Path()).Msgf("Embedding %d files (%s)", len(entries), humanize.Bytes(total))
	return out.Rewrite(source)
}

func unexported(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToLower(r)) + name[size:]
}
