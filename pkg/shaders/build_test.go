package shaders

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

// fakeLauncher records invocations and tracks how many processes are alive at once. Wait
// writes the artifact like the real compiler would.
type fakeLauncher struct {
	calls    [][]string
	events   []string
	alive    int
	maxAlive int
	fail     map[string]bool
}

type fakeProcess struct {
	l        *fakeLauncher
	src      string
	artifact string
	err      error
}

func (l *fakeLauncher) Start(ctx context.Context, argv []string) (Process, error) {
	l.calls = append(l.calls, argv)
	l.events = append(l.events, "start "+filepath.Base(argv[1]))
	l.alive++
	if l.alive > l.maxAlive {
		l.maxAlive = l.alive
	}

	proc := &fakeProcess{l: l, src: argv[1], artifact: argv[4]}
	if l.fail[filepath.Base(argv[1])] {
		proc.err = eris.New("exit status 1")
	}
	return proc, nil
}

func (p *fakeProcess) Wait() error {
	p.l.alive--
	p.l.events = append(p.l.events, "wait "+filepath.Base(p.src))
	if p.err != nil {
		return p.err
	}
	return os.WriteFile(p.artifact, []byte("SPIR-V"), 0o644)
}

type buildFixture struct {
	in  string
	out string
	now time.Time
}

func newFixture(t *testing.T) buildFixture {
	t.Helper()
	base := t.TempDir()
	f := buildFixture{
		in:  filepath.Join(base, "Shaders"),
		out: filepath.Join(base, "build", "Shaders"),
		now: time.Now(),
	}

	touch(t, filepath.Join(f.in, "default.vert"), f.now.Add(-time.Hour))
	touch(t, filepath.Join(f.in, "default.frag"), f.now.Add(-time.Hour))
	touch(t, filepath.Join(f.in, "terrain", "terrain.tesc"), f.now.Add(-48*time.Hour))
	touch(t, filepath.Join(f.in, "terrain", "terrain.tese"), f.now.Add(-48*time.Hour))
	touch(t, filepath.Join(f.in, "particles.comp"), f.now.Add(-10*time.Minute))
	touch(t, filepath.Join(f.in, "common", "lights.glsl"), f.now.Add(-48*time.Hour))
	return f
}

func (f buildFixture) options(l Launcher) Options {
	return Options{
		InputDir:  f.in,
		OutputDir: f.out,
		Compiler:  "glslc",
		Now:       func() time.Time { return f.now },
		Launcher:  l,
	}
}

func compiledNames(l *fakeLauncher) []string {
	result := make([]string, len(l.calls))
	for idx, call := range l.calls {
		result[idx] = filepath.Base(call[1])
	}
	return result
}

func TestBuildCompilesRecentShadersOnly(t *testing.T) {
	f := newFixture(t)
	l := &fakeLauncher{}

	report, err := NewBuilder(f.options(l)).Build(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"default.vert", "default.frag", "particles.comp"}, compiledNames(l))
	require.Equal(t, 5, report.Discovered)
	require.Equal(t, 2, report.Skipped)
	require.Len(t, report.Results, 3)
	require.Empty(t, report.Failed())
}

func TestBuildForceAll(t *testing.T) {
	f := newFixture(t)
	l := &fakeLauncher{}
	opts := f.options(l)
	opts.ForceAll = true

	report, err := NewBuilder(opts).Build(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{
		"default.vert",
		"terrain.tesc",
		"terrain.tese",
		"default.frag",
		"particles.comp",
	}, compiledNames(l))
	require.Equal(t, 0, report.Skipped)
}

func TestBuildCommandLine(t *testing.T) {
	f := newFixture(t)
	l := &fakeLauncher{}
	opts := f.options(l)
	opts.Args = []string{"-DMAX_VIEW_COUNT=2 "}
	opts.Flags = "-O '-DNAME=a b'"

	_, err := NewBuilder(opts).Build(context.Background())
	require.NoError(t, err)

	src := filepath.Join(f.in, "default.vert")
	require.Equal(t, []string{
		"glslc", src, "-c", "-o", filepath.Join(f.in, "default_vert.spv"),
		"-DMAX_VIEW_COUNT=2 ", "-O", "-DNAME=a b",
	}, l.calls[0])
}

func TestBuildParallelLaunchesEverythingFirst(t *testing.T) {
	f := newFixture(t)
	l := &fakeLauncher{}
	opts := f.options(l)
	opts.ForceAll = true

	_, err := NewBuilder(opts).Build(context.Background())
	require.NoError(t, err)

	require.Equal(t, 5, l.maxAlive)
	for idx, event := range l.events {
		if idx < 5 {
			require.True(t, strings.HasPrefix(event, "start "), event)
		} else {
			require.True(t, strings.HasPrefix(event, "wait "), event)
		}
	}
}

func TestBuildSerial(t *testing.T) {
	f := newFixture(t)
	l := &fakeLauncher{}
	opts := f.options(l)
	opts.ForceAll = true
	opts.Serial = true

	_, err := NewBuilder(opts).Build(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, l.maxAlive)
	require.Equal(t, []string{
		"start default.vert", "wait default.vert",
		"start terrain.tesc", "wait terrain.tesc",
		"start terrain.tese", "wait terrain.tese",
		"start default.frag", "wait default.frag",
		"start particles.comp", "wait particles.comp",
	}, l.events)
}

func TestBuildJobLimit(t *testing.T) {
	f := newFixture(t)
	l := &fakeLauncher{}
	opts := f.options(l)
	opts.ForceAll = true
	opts.Jobs = 2

	_, err := NewBuilder(opts).Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, l.maxAlive)
	require.Len(t, l.calls, 5)
}

func TestBuildMirrorsOutput(t *testing.T) {
	f := newFixture(t)
	touch(t, filepath.Join(f.out, "removed.frag"), f.now)

	_, err := NewBuilder(f.options(&fakeLauncher{})).Build(context.Background())
	require.NoError(t, err)

	for _, rel := range []string{
		"default.vert",
		"default_vert.spv",
		"default_frag.spv",
		"particles_comp.spv",
		filepath.Join("terrain", "terrain.tesc"),
		filepath.Join("common", "lights.glsl"),
	} {
		_, err := os.Stat(filepath.Join(f.out, rel))
		require.NoError(t, err, rel)
	}

	_, err = os.Stat(filepath.Join(f.out, "removed.frag"))
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(filepath.Join(f.out, "terrain", "terrain_tesc.spv"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuildWithoutShadersStillMirrors(t *testing.T) {
	base := t.TempDir()
	in := filepath.Join(base, "Shaders")
	out := filepath.Join(base, "out")
	touch(t, filepath.Join(in, "README.txt"), time.Now())
	touch(t, filepath.Join(out, "stale_frag.spv"), time.Now())

	l := &fakeLauncher{}
	report, err := NewBuilder(Options{InputDir: in, OutputDir: out, Compiler: "glslc", Launcher: l}).Build(context.Background())
	require.NoError(t, err)
	require.Empty(t, l.calls)
	require.Equal(t, 0, report.Discovered)

	_, err = os.Stat(filepath.Join(out, "README.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "stale_frag.spv"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuildReportsFailuresAfterMirroring(t *testing.T) {
	f := newFixture(t)
	l := &fakeLauncher{fail: map[string]bool{"default.frag": true, "particles.comp": true}}

	report, err := NewBuilder(f.options(l)).Build(context.Background())
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)
	require.Contains(t, err.Error(), "default.frag")

	failed := report.Failed()
	require.Len(t, failed, 2)
	require.Equal(t, filepath.Join(f.in, "default.frag"), failed[0].Source.Path)

	_, statErr := os.Stat(filepath.Join(f.out, "default_vert.spv"))
	require.NoError(t, statErr)
}

func TestBuildMissingCompiler(t *testing.T) {
	f := newFixture(t)
	opts := f.options(nil)
	opts.Compiler = filepath.Join(t.TempDir(), "no-such-glslc")

	report, err := NewBuilder(opts).Build(context.Background())
	require.Error(t, err)
	require.Len(t, report.Failed(), 3)

	_, statErr := os.Stat(filepath.Join(f.out, "default.vert"))
	require.NoError(t, statErr)
}

func TestBuildCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBuilder(f.options(&fakeLauncher{})).Build(ctx)
	require.Error(t, err)

	_, statErr := os.Stat(f.out)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-glslc")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestBuildWithExecLauncher(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}

	f := newFixture(t)
	opts := f.options(nil)
	opts.Compiler = writeScript(t, `echo "$@" > "$4"`)
	opts.Launcher = ExecLauncher{}
	opts.Args = []string{"-O"}

	_, err := NewBuilder(opts).Build(context.Background())
	require.NoError(t, err)

	src := filepath.Join(f.in, "particles.comp")
	data, err := os.ReadFile(filepath.Join(f.out, "particles_comp.spv"))
	require.NoError(t, err)
	require.Equal(t, src+" -c -o "+filepath.Join(f.in, "particles_comp.spv")+" -O\n", string(data))
}

func TestBuildWithFailingCompiler(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}

	f := newFixture(t)
	opts := f.options(nil)
	opts.Compiler = writeScript(t, "exit 3")
	opts.Launcher = ExecLauncher{}
	opts.Serial = true

	report, err := NewBuilder(opts).Build(context.Background())
	require.Error(t, err)
	require.Len(t, report.Failed(), 3)

	_, statErr := os.Stat(filepath.Join(f.out, "default.frag"))
	require.NoError(t, statErr)
}

func TestResolveCompiler(t *testing.T) {
	t.Setenv("VULKAN_SDK", "")
	require.Equal(t, DefaultCompiler, ResolveCompiler(""))
	require.Equal(t, "/opt/glslc", ResolveCompiler("/opt/glslc"))

	sdk := filepath.Join("opt", "VulkanSDK", "1.3.268")
	t.Setenv("VULKAN_SDK", sdk)
	bin := "bin"
	if runtime.GOOS == "windows" {
		bin = "Bin"
	}
	require.Equal(t, filepath.Join(sdk, bin, "glslc"), ResolveCompiler(""))
	require.Equal(t, "custom", ResolveCompiler("custom"))
}

func TestSplitFlags(t *testing.T) {
	t.Setenv("PREV_TEST_VIEWS", "2")

	fields, err := SplitFlags(`-O -DMAX_VIEW_COUNT=$PREV_TEST_VIEWS '-DNAME=a b'`)
	require.NoError(t, err)
	require.Equal(t, []string{"-O", "-DMAX_VIEW_COUNT=2", "-DNAME=a b"}, fields)

	_, err = SplitFlags(`-DNAME='unterminated`)
	require.Error(t, err)
}
