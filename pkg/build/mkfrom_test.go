package build

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mkFixture struct {
	root   Dir
	src    File
	target File
	calls  int
}

func newMkFixture(t *testing.T) *mkFixture {
	root := MustDir(t.TempDir())
	f := &mkFixture{
		root:   root,
		src:    root.MustFile("src/input.txt"),
		target: root.MustFile("out/output.txt"),
	}

	require.NoError(t, f.src.Rewrite([]byte("input")))
	setTime(t, f.src.Path(), -time.Hour)
	return f
}

func (f *mkFixture) action(ctx context.Context) error {
	f.calls++
	return f.target.Rewrite([]byte("output"))
}

func TestMkFromMissingTarget(t *testing.T) {
	f := newMkFixture(t)

	built, err := MkFrom(context.Background(), f.target, "output", f.src, f.action)
	require.NoError(t, err)
	assert.True(t, built)
	assert.Equal(t, 1, f.calls)

	built, err = f.target.MkFrom(context.Background(), "output", f.src, f.action)
	require.NoError(t, err)
	assert.False(t, built)
	assert.Equal(t, 1, f.calls)
}

func TestMkFromStaleness(t *testing.T) {
	f := newMkFixture(t)
	require.NoError(t, f.target.Rewrite([]byte("old")))

	// equal timestamps are fresh
	ts, _ := f.src.Timestamp()
	require.NoError(t, os.Chtimes(f.target.Path(), ts, ts))
	assert.False(t, IsStale(f.target, f.src))

	setTime(t, f.target.Path(), -2*time.Hour)
	assert.True(t, IsStale(f.target, f.src))

	built, err := MkFrom(context.Background(), f.target, "output", f.src, f.action)
	require.NoError(t, err)
	assert.True(t, built)
	assert.False(t, IsStale(f.target, f.src))
}

func TestMkFromMissingSourcesContributeNothing(t *testing.T) {
	f := newMkFixture(t)
	require.NoError(t, f.target.Rewrite([]byte("old")))

	missing := f.root.MustFile("src/missing.txt")
	assert.False(t, IsStale(f.target, missing))
	assert.False(t, IsStale(f.target, Files(f.src, missing)))
	assert.False(t, IsStale(f.target, f.root.Files("nothing/**")))
}

func TestMkFromForceAndDryRun(t *testing.T) {
	f := newMkFixture(t)
	require.NoError(t, f.target.Rewrite([]byte("old")))

	built, err := MkFrom(context.Background(), f.target, "output", f.src, f.action, Force(true), DryRun(true))
	require.NoError(t, err)
	assert.True(t, built)
	assert.Equal(t, 0, f.calls)

	built, err = MkFrom(context.Background(), f.target, "output", f.src, f.action, Force(true))
	require.NoError(t, err)
	assert.True(t, built)
	assert.Equal(t, 1, f.calls)
}

func TestMkFromActionError(t *testing.T) {
	f := newMkFixture(t)
	failure := eris.New("compiler exploded")

	built, err := MkFrom(context.Background(), f.target, "output", f.src, func(ctx context.Context) error {
		return failure
	})
	require.Error(t, err)
	assert.False(t, built)
	assert.True(t, eris.Is(err, failure))
	assert.Contains(t, err.Error(), "failed to build output")
	assert.NoFileExists(t, f.target.Path())
}

func TestMkFromFailedActionStaysStale(t *testing.T) {
	f := newMkFixture(t)
	partial := func(ctx context.Context) error {
		f.calls++
		if err := f.target.Rewrite([]byte("half")); err != nil {
			return err
		}
		return eris.New("disk full")
	}

	_, err := MkFrom(context.Background(), f.target, "output", f.src, partial)
	require.Error(t, err)
	assert.NoFileExists(t, f.target.Path(), "output of a failed first build is removed")

	require.NoError(t, f.target.Rewrite([]byte("old")))
	setTime(t, f.target.Path(), -2*time.Hour)

	_, err = MkFrom(context.Background(), f.target, "output", f.src, partial)
	require.Error(t, err)
	assert.FileExists(t, f.target.Path(), "existing targets are kept")
	assert.True(t, IsStale(f.target, f.src))

	built, err := MkFrom(context.Background(), f.target, "output", f.src, f.action)
	require.NoError(t, err)
	assert.True(t, built)
	assert.Equal(t, 3, f.calls)
}

func TestMkFromFailedDirActionStaysStale(t *testing.T) {
	f := newMkFixture(t)
	dest := f.root.MustDir("vendor")
	failing := func(ctx context.Context) error {
		if err := dest.MustFile("partial.txt").Touch(); err != nil {
			return err
		}
		return eris.New("bad archive")
	}

	for i := 0; i < 2; i++ {
		built, err := dest.MkFrom(context.Background(), "unpack", f.src, failing)
		require.Error(t, err)
		assert.False(t, built)
		assert.NoDirExists(t, dest.Path())
	}
}

func TestMkFromNotProduced(t *testing.T) {
	f := newMkFixture(t)

	_, err := MkFrom(context.Background(), f.target, "output", f.src, func(ctx context.Context) error {
		return nil
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotProduced))
}

func TestMkFromMarksFresh(t *testing.T) {
	f := newMkFixture(t)
	srcTime := setTime(t, f.src.Path(), time.Hour)

	// the action doesn't modify the existing target
	require.NoError(t, f.target.Rewrite([]byte("old")))
	setTime(t, f.target.Path(), -time.Hour)

	built, err := MkFrom(context.Background(), f.target, "output", f.src, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.True(t, built)

	ts, ok := f.target.Timestamp()
	require.True(t, ok)
	assert.False(t, ts.Before(time.Now().Add(-time.Minute)))
	assert.True(t, srcTime.After(ts), "touch uses the current time")
}

func TestMkFromCreatesDirTarget(t *testing.T) {
	f := newMkFixture(t)
	out := f.root.MustDir("gen")

	built, err := out.MkFrom(context.Background(), "gen", f.src, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.True(t, built)
	assert.DirExists(t, out.Path())
}

func TestMkFromLogs(t *testing.T) {
	f := newMkFixture(t)
	buffer := bytes.Buffer{}
	logger := zerolog.New(&buffer).Level(zerolog.DebugLevel)
	ctx := WithLogger(context.Background(), &logger)

	_, err := MkFrom(ctx, f.target, "output", f.src, f.action)
	require.NoError(t, err)
	assert.Contains(t, buffer.String(), "Building: output")

	buffer.Reset()
	_, err = MkFrom(ctx, f.target, "output", f.src, f.action)
	require.NoError(t, err)
	assert.Contains(t, buffer.String(), "nothing to do")
	assert.Contains(t, buffer.String(), `"step":"output"`)
}

func TestMkFromCanceled(t *testing.T) {
	f := newMkFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	built, err := MkFrom(ctx, f.target, "output", f.src, f.action)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, built)
	assert.Equal(t, 0, f.calls)
}
