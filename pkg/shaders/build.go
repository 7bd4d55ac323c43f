package shaders

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/multierr"

	"github.com/helcl42/PreVEngine/pkg/fsutil"
	"github.com/helcl42/PreVEngine/pkg/logging"
)

// Options controls a single build run
type Options struct {
	InputDir  string
	OutputDir string

	// ForceAll compiles every shader regardless of its modification time
	ForceAll bool
	// Serial waits for each compiler process before starting the next one
	Serial bool
	// Jobs limits the number of concurrent compiler processes, 0 means unlimited
	Jobs int

	// Compiler overrides the compiler lookup, see ResolveCompiler
	Compiler string
	// Args are appended to every compiler invocation as they are
	Args []string
	// Flags are split with shell quoting rules and appended after Args
	Flags string

	StaleAfter time.Duration
	Now        func() time.Time
	Launcher   Launcher
}

// JobResult describes the outcome of one compiler invocation
type JobResult struct {
	Source   Source
	Artifact string
	Err      error
	Duration time.Duration
}

// Report summarizes a build run
type Report struct {
	Discovered int
	Skipped    int
	Results    []JobResult
	Elapsed    time.Duration
}

// Failed returns the results of all jobs which didn't succeed
func (r *Report) Failed() []JobResult {
	failed := make([]JobResult, 0)
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}

	return failed
}

type runningJob struct {
	result  JobResult
	started time.Time
	proc    Process
}

// Builder compiles shaders and mirrors the input tree into the output directory
type Builder struct {
	opts Options
}

// NewBuilder fills in defaults for unset options and returns a new Builder
func NewBuilder(opts Options) *Builder {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.Launcher == nil {
		opts.Launcher = ExecLauncher{Stdout: os.Stdout, Stderr: os.Stderr}
	}

	return &Builder{opts: opts}
}

func (b *Builder) concurrency() int {
	if b.opts.Serial {
		return 1
	}

	return b.opts.Jobs
}

// Build compiles all stale shaders, waits for the compiler processes and then replaces the
// output directory with a copy of the input directory. The copy happens even if some shaders
// failed to compile; those failures are returned together afterwards.
func (b *Builder) Build(ctx context.Context) (*Report, error) {
	start := b.opts.Now()
	logger := logging.Log(ctx)

	sources, err := Discover(b.opts.InputDir)
	if err != nil {
		return nil, err
	}

	extra := append([]string{}, b.opts.Args...)
	if b.opts.Flags != "" {
		flags, err := SplitFlags(b.opts.Flags)
		if err != nil {
			return nil, err
		}
		extra = append(extra, flags...)
	}

	compiler := ResolveCompiler(b.opts.Compiler)
	logger.Debug().Str("compiler", compiler).Strs("args", extra).Msg("Resolved compiler")

	report := &Report{Discovered: len(sources)}
	limit := b.concurrency()
	pending := make([]*runningJob, 0)

	for _, src := range sources {
		if !NeedsCompile(src, start, b.opts.StaleAfter, b.opts.ForceAll) {
			logger.Debug().Str("shader", src.Path).Str("stage", string(src.Stage)).Msg("Up to date")
			report.Skipped++
			continue
		}

		if limit > 0 && len(pending) >= limit {
			b.await(ctx, pending[0], report)
			pending = pending[1:]
		}

		if ctx.Err() != nil {
			break
		}

		artifact := ArtifactPath(src.Path)
		logger.Info().Str("shader", src.Path).Str("stage", string(src.Stage)).Msgf("Compiling: %s ...", artifact)

		job := &runningJob{
			result: JobResult{
				Source:   src,
				Artifact: artifact,
			},
			started: time.Now(),
		}

		job.proc, err = b.opts.Launcher.Start(ctx, CompileArgs(compiler, src.Path, artifact, extra))
		if err != nil {
			job.result.Err = err
			logger.Error().Err(err).Str("shader", src.Path).Str("stage", string(src.Stage)).Msg("Failed to start compiler")
			report.Results = append(report.Results, job.result)
			continue
		}

		pending = append(pending, job)
	}

	if len(pending) > 0 {
		logger.Info().Msgf("Waiting for %d tasks...", len(pending))
	}
	for _, job := range pending {
		b.await(ctx, job, report)
	}

	if err := ctx.Err(); err != nil {
		return report, eris.Wrap(err, "Shader compilation was interrupted")
	}

	logger.Info().Str("path", b.opts.OutputDir).Msgf("Copying %s to %s", b.opts.InputDir, b.opts.OutputDir)
	err = fsutil.Mirror(b.opts.InputDir, b.opts.OutputDir)
	if err != nil {
		return report, err
	}

	report.Elapsed = b.opts.Now().Sub(start)
	logger.Info().Msgf("Execution took: %.3f s.", report.Elapsed.Seconds())

	var errs error
	for _, res := range report.Failed() {
		errs = multierr.Append(errs, res.Err)
	}

	return report, errs
}

func (b *Builder) await(ctx context.Context, job *runningJob, report *Report) {
	err := job.proc.Wait()
	job.result.Duration = time.Since(job.started)
	src := job.result.Source
	if err != nil {
		job.result.Err = eris.Wrapf(err, "Compiler failed for %s", src.Path)
		logging.Log(ctx).Error().Err(err).Str("shader", src.Path).Str("stage", string(src.Stage)).Msg("Compilation failed")
	} else {
		logging.Log(ctx).Debug().
			Str("shader", src.Path).
			Str("stage", string(src.Stage)).
			Dur("elapsed", job.result.Duration).
			Msg("Compiled")
	}

	report.Results = append(report.Results, job.result)
}
