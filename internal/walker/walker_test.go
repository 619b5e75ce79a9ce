package walker

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var imageExts = []string{".png", ".jpg", ".jpeg"}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

func TestWalk_FiltersExtensionsAtAnyDepth(t *testing.T) {
	dir := t.TempDir()
	want := []string{
		touch(t, dir, "a.jpg"),
		touch(t, dir, "b.PNG"),
		touch(t, dir, "sub/c.JpEg"),
		touch(t, dir, "sub/deeper/still/d.png"),
	}
	touch(t, dir, "c.txt")
	touch(t, dir, "sub/notes.md")
	touch(t, dir, "sub/deeper/e.gif")
	touch(t, dir, "sub/deeper/jpg")
	touch(t, dir, "sub/deeper/photo.jpg.bak")

	got, err := Collect(Walk(dir, imageExts))
	require.NoError(t, err)

	sort.Strings(want)
	sort.Strings(got)
	assert.Equal(t, want, got)
}

func TestWalk_YieldsAbsolutePaths(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.jpg")

	wd, err := os.Getwd()
	require.NoError(t, err)
	rel, err := filepath.Rel(wd, dir)
	require.NoError(t, err)

	got, err := Collect(Walk(rel, imageExts))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, filepath.IsAbs(got[0]), "path %q is not absolute", got[0])
}

func TestWalk_DirectoriesNamedLikeImagesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "album.jpg"), 0o755))
	inner := touch(t, dir, "album.jpg/inner.png")

	got, err := Collect(Walk(dir, imageExts))
	require.NoError(t, err)
	assert.Equal(t, []string{inner}, got)
}

func TestWalk_MissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")

	var (
		count   int
		lastErr error
	)
	for _, err := range Walk(root, imageExts) {
		count++
		lastErr = err
	}
	assert.Equal(t, 1, count)
	assert.True(t, errors.Is(lastErr, ErrRootUnreadable))

	var rootErr *RootError
	require.True(t, errors.As(lastErr, &rootErr))
	assert.True(t, errors.Is(rootErr, os.ErrNotExist))
}

func TestWalk_RootIsFile(t *testing.T) {
	file := touch(t, t.TempDir(), "a.jpg")

	_, err := Collect(Walk(file, imageExts))
	assert.True(t, errors.Is(err, ErrRootUnreadable))
}

func TestWalk_UnreadableSubdirContinues(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	dir := t.TempDir()
	ok := touch(t, dir, "ok.png")
	touch(t, dir, "locked/hidden.png")
	locked := filepath.Join(dir, "locked")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	var (
		paths []string
		errs  []error
	)
	for path, err := range Walk(dir, imageExts) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		paths = append(paths, path)
	}
	assert.Equal(t, []string{ok}, paths)
	require.Len(t, errs, 1)
	assert.False(t, errors.Is(errs[0], ErrRootUnreadable))
}

func TestWalk_SymlinkedRoot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated privileges on windows")
	}
	target := t.TempDir()
	touch(t, target, "a.jpg")
	touch(t, target, "sub/b.png")

	link := filepath.Join(t.TempDir(), "album")
	require.NoError(t, os.Symlink(target, link))

	got, err := Collect(Walk(link, imageExts))
	require.NoError(t, err)
	sort.Strings(got)
	assert.Equal(t, []string{
		filepath.Join(link, "a.jpg"),
		filepath.Join(link, "sub", "b.png"),
	}, got)
}

func TestWalk_StopsWhenConsumerBreaks(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.png", "c.png", "d.png"} {
		touch(t, dir, name)
	}

	seen := 0
	for _, err := range Walk(dir, imageExts) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestMatchesExtension(t *testing.T) {
	assert.True(t, MatchesExtension("IMG_0001.JPG", imageExts))
	assert.True(t, MatchesExtension("x.jpeg", imageExts))
	assert.False(t, MatchesExtension("x.jpe", imageExts))
	assert.False(t, MatchesExtension("png", []string{".png"}))
}
