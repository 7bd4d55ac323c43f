package shaders

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#version 450\nvoid main() {}\n"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func paths(sources []Source) []string {
	result := make([]string, len(sources))
	for idx, src := range sources {
		result[idx] = src.Path
	}
	return result
}

func TestDiscoverGroupsByStage(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	for _, rel := range []string{
		"z.frag",
		"a.frag",
		"sub/terrain.tesc",
		"sub/terrain.tese",
		"sub/deeper/sky.vert",
		"particles.comp",
		"shadow.geom",
		"default.vert",
		"common.glsl",
		"default_vert.spv",
		".hidden/secret.frag",
		".dotfile.vert",
	} {
		touch(t, filepath.Join(root, filepath.FromSlash(rel)), now)
	}

	sources, err := Discover(root)
	require.NoError(t, err)

	want := []string{
		"default.vert",
		"sub/deeper/sky.vert",
		"sub/terrain.tesc",
		"sub/terrain.tese",
		"shadow.geom",
		"a.frag",
		"z.frag",
		"particles.comp",
	}
	for idx, rel := range want {
		want[idx] = filepath.Join(root, filepath.FromSlash(rel))
	}
	require.Equal(t, want, paths(sources))

	require.Equal(t, Vertex, sources[0].Stage)
	require.Equal(t, Compute, sources[len(sources)-1].Stage)
}

func TestDiscoverFollowsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need extra privileges on Windows")
	}

	base := t.TempDir()
	root := filepath.Join(base, "Shaders")
	shared := filepath.Join(base, "shared")
	now := time.Now()
	old := now.Add(-72 * time.Hour).Truncate(time.Second)

	touch(t, filepath.Join(root, "default.vert"), now)
	touch(t, filepath.Join(shared, "lights.frag"), now)
	touch(t, filepath.Join(base, "external", "sky.vert"), old)

	require.NoError(t, os.Symlink(shared, filepath.Join(root, "common")))
	require.NoError(t, os.Symlink(root, filepath.Join(root, "loop")))
	require.NoError(t, os.Symlink(filepath.Join(base, "external", "sky.vert"), filepath.Join(root, "sky.vert")))
	require.NoError(t, os.Symlink(filepath.Join(base, "missing"), filepath.Join(root, "dangling.frag")))

	sources, err := Discover(root)
	require.NoError(t, err)

	require.Equal(t, []string{
		filepath.Join(root, "default.vert"),
		filepath.Join(root, "sky.vert"),
		filepath.Join(root, "common", "lights.frag"),
	}, paths(sources))
	require.True(t, sources[1].ModTime.Equal(old), "got %s, want %s", sources[1].ModTime, old)
}

func TestDiscoverMissingRoot(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestNeedsCompile(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	fresh := Source{Path: "fresh.frag", ModTime: now.Add(-23 * time.Hour)}
	old := Source{Path: "old.frag", ModTime: now.Add(-25 * time.Hour)}
	future := Source{Path: "future.frag", ModTime: now.Add(time.Hour)}

	require.True(t, NeedsCompile(fresh, now, DefaultStaleAfter, false))
	require.False(t, NeedsCompile(old, now, DefaultStaleAfter, false))
	require.True(t, NeedsCompile(future, now, DefaultStaleAfter, false))

	require.True(t, NeedsCompile(old, now, DefaultStaleAfter, true))
	require.True(t, NeedsCompile(old, now, 48*time.Hour, false))
}
