package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/helcl42/PreVEngine/pkg"
	"github.com/helcl42/PreVEngine/pkg/shaders"
)

var compileShadersCmd = &cobra.Command{
	Use:   "compile-shaders",
	Short: "Compiles all shaders recursively and copies the results to the output folder",
	Long: `Compiles every .vert, .tesc, .tese, .geom, .frag and .comp file below the input folder
with glslc. Only shaders modified within the last 24 hours are compiled unless
--force-compile-all is passed. The compiled shader_<stage>.spv files are written next to their
sources, then the output folder is replaced with a copy of the input folder.`,
	Example: `  prev-tools compile-shaders --input-folder Examples/PreVEngineExample/assets/Shaders \
    --output-folder build/Examples/PreVEngineExample/assets/Shaders \
    --compile-serial --force-compile-all --compiler-args '-DMAX_VIEW_COUNT=2' --compiler-args '-DENABLE_XR=1'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := shaderOptions(cmd)
		if err != nil {
			return err
		}

		summary, err := cmd.Flags().GetBool("summary")
		if err != nil {
			return err
		}

		pkg.PrintTask("Compiling shaders")
		report, err := shaders.NewBuilder(opts).Build(commandContext(cmd))
		if report != nil && summary && len(report.Results) > 0 {
			printReport(os.Stdout, report)
		}

		if err != nil {
			return err
		}

		pkg.PrintTask("Done")
		return nil
	},
}

func init() {
	flags := compileShadersCmd.Flags()
	flags.String("input-folder", "", "path to a folder with shaders to compile")
	flags.String("output-folder", "", "path to a folder where outputs will be copied")
	flags.Bool("force-compile-all", false, "compile all shaders, even unmodified ones")
	flags.Bool("compile-serial", false, "run one compiler process at a time (meant for debugging)")
	flags.StringArray("compiler-args", nil, "argument passed to the compiler as is (repeatable)")
	flags.String("compiler-flags", "", "additional compiler arguments, split with shell quoting rules")
	flags.String("compiler", "", "path to glslc (defaults to $VULKAN_SDK/Bin/glslc or glslc in PATH)")
	flags.IntP("jobs", "j", 0, "maximum number of concurrent compiler processes (0 = unlimited)")
	flags.Duration("stale-after", shaders.DefaultStaleAfter, "recompile shaders modified within this window")
	flags.Bool("summary", true, "print a table of the compiled shaders")

	compileShadersCmd.MarkFlagRequired("input-folder")
	compileShadersCmd.MarkFlagRequired("output-folder")

	rootCmd.AddCommand(compileShadersCmd)
}

func shaderOptions(cmd *cobra.Command) (shaders.Options, error) {
	var opts shaders.Options
	var err error
	flags := cmd.Flags()

	if opts.InputDir, err = flags.GetString("input-folder"); err != nil {
		return opts, err
	}
	if opts.OutputDir, err = flags.GetString("output-folder"); err != nil {
		return opts, err
	}
	if opts.ForceAll, err = flags.GetBool("force-compile-all"); err != nil {
		return opts, err
	}
	if opts.Serial, err = flags.GetBool("compile-serial"); err != nil {
		return opts, err
	}
	if opts.Args, err = flags.GetStringArray("compiler-args"); err != nil {
		return opts, err
	}

	// settings file values apply unless the flag was passed explicitly
	opts.Compiler = appConfig.Shaders.Compiler
	opts.Flags = appConfig.Shaders.Flags
	opts.Jobs = appConfig.Shaders.Jobs
	opts.StaleAfter = appConfig.Shaders.StaleAfter

	if flags.Changed("compiler") {
		if opts.Compiler, err = flags.GetString("compiler"); err != nil {
			return opts, err
		}
	}
	if flags.Changed("compiler-flags") {
		if opts.Flags, err = flags.GetString("compiler-flags"); err != nil {
			return opts, err
		}
	}
	if flags.Changed("jobs") {
		if opts.Jobs, err = flags.GetInt("jobs"); err != nil {
			return opts, err
		}
	}
	if flags.Changed("stale-after") {
		if opts.StaleAfter, err = flags.GetDuration("stale-after"); err != nil {
			return opts, err
		}
	}

	if opts.Jobs < 0 {
		return opts, eris.New("--jobs must not be negative")
	}

	return opts, nil
}

func printReport(w io.Writer, report *shaders.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Shader", "Stage", "Result", "Time"})

	for _, res := range report.Results {
		status := text.FgGreen.Sprint("ok")
		if res.Err != nil {
			status = text.FgRed.Sprint("failed")
		}

		t.AppendRow(table.Row{res.Source.Path, res.Source.Stage, status, res.Duration.Round(time.Millisecond)})
	}

	t.AppendFooter(table.Row{
		fmt.Sprintf("%d found", report.Discovered),
		fmt.Sprintf("%d skipped", report.Skipped),
		fmt.Sprintf("%d failed", len(report.Failed())),
		report.Elapsed.Round(time.Millisecond),
	})
	t.Render()
}
