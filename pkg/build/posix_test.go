package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMove(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	dest := filepath.Join(dir, "dest")
	require.NoError(t, os.WriteFile(a, []byte("a"), 0660))
	require.NoError(t, os.WriteFile(b, []byte("b"), 0660))

	err := Move([]string{a, b}, filepath.Join(dir, "nodir"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")

	require.NoError(t, os.Mkdir(dest, 0770))
	require.NoError(t, Move([]string{a, b}, dest))
	assert.FileExists(t, filepath.Join(dest, "a.txt"))
	assert.FileExists(t, filepath.Join(dest, "b.txt"))

	renamed := filepath.Join(dir, "renamed.txt")
	require.NoError(t, Move([]string{filepath.Join(dest, "a.txt")}, renamed))
	content, err := os.ReadFile(renamed)
	require.NoError(t, err)
	assert.Equal(t, "a", string(content))

	err = Move([]string{a}, filepath.Join(dir, "missing", "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not find destination directory")

	assert.Error(t, Move(nil, dest))
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.WriteFile(file, nil, 0660))
	require.NoError(t, os.MkdirAll(filepath.Join(sub, "nested"), 0770))

	err := Remove([]string{sub}, false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recursive removal")
	assert.DirExists(t, sub)

	err = Remove([]string{filepath.Join(dir, "missing")}, false, false)
	require.Error(t, err)

	require.NoError(t, Remove([]string{filepath.Join(dir, "missing"), file, sub}, true, true))
	assert.NoFileExists(t, file)
	assert.NoDirExists(t, sub)
}

func TestMkdir(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")

	require.Error(t, Mkdir([]string{nested}, false))
	require.NoError(t, Mkdir([]string{nested}, true))
	require.NoError(t, Mkdir([]string{nested}, true))
	assert.DirExists(t, nested)

	require.Error(t, Mkdir([]string{nested}, false))
}

func TestPosixBuiltinFlags(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, posixBuiltins["mkdir"](dir, []string{"-p", "x/y"}))
	assert.DirExists(t, filepath.Join(dir, "x", "y"))

	require.NoError(t, posixBuiltins["mv"](dir, []string{"-f", "x/y", "z"}))
	assert.DirExists(t, filepath.Join(dir, "z"))

	assert.Error(t, posixBuiltins["mv"](dir, []string{"z"}))
	assert.Error(t, posixBuiltins["rm"](dir, []string{"--bogus", "z"}))

	require.NoError(t, posixBuiltins["rm"](dir, []string{"-rf", "x", "z"}))
	assert.NoDirExists(t, filepath.Join(dir, "x"))
	assert.NoDirExists(t, filepath.Join(dir, "z"))
}
