package shaders

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/shell"
)

// DefaultCompiler is looked up in PATH if neither an explicit compiler nor VULKAN_SDK is set
const DefaultCompiler = "glslc"

// ResolveCompiler picks the compiler executable. An explicit path always wins, otherwise the
// Vulkan SDK pointed to by VULKAN_SDK is used before falling back to PATH.
func ResolveCompiler(explicit string) string {
	if explicit != "" {
		return explicit
	}

	sdk := os.Getenv("VULKAN_SDK")
	if sdk == "" {
		return DefaultCompiler
	}

	// The Windows SDK installs into Bin, the Linux and macOS tarballs into bin.
	binDir := "bin"
	if runtime.GOOS == "windows" {
		binDir = "Bin"
	}

	return filepath.Join(sdk, binDir, DefaultCompiler)
}

// CompileArgs builds the full command line for a single shader
func CompileArgs(compiler, src, artifact string, extra []string) []string {
	args := []string{compiler, src, "-c", "-o", artifact}
	return append(args, extra...)
}

// SplitFlags splits a flag string like `-O -DMAX_VIEW_COUNT=2` into separate arguments using
// POSIX shell quoting rules. Environment variables are expanded.
func SplitFlags(flags string) ([]string, error) {
	fields, err := shell.Fields(flags, os.Getenv)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to parse compiler flags %q", flags)
	}

	return fields, nil
}

// Process is a started compiler invocation
type Process interface {
	Wait() error
}

// Launcher starts compiler processes. The default implementation is ExecLauncher.
type Launcher interface {
	Start(ctx context.Context, argv []string) (Process, error)
}

// ExecLauncher runs the compiler as a child process. Output is forwarded to Stdout and
// Stderr; nil discards it.
type ExecLauncher struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Start launches argv without waiting for it. The process is killed if ctx is cancelled.
func (l ExecLauncher) Start(ctx context.Context, argv []string) (Process, error) {
	if len(argv) < 1 {
		return nil, eris.New("Empty command line")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	err := cmd.Start()
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to run %v", argv)
	}

	return cmd, nil
}
