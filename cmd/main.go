package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/helcl42/PreVEngine/pkg/config"
	"github.com/helcl42/PreVEngine/pkg/logging"
)

var (
	appConfig *config.Config
	logger    = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "prev-tools",
	Short: "Build tools for PreVEngine",
	Long: `This command bundles several tools that are used to build PreVEngine.
This includes tools to compile shaders to SPIR-V, to download & extract dependencies, ...`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().String("settings", "", "TOML file with tool settings (defaults to "+config.DefaultFile+" if present)")
	rootCmd.PersistentFlags().String("log-level", "", "minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json", false, "write log events as JSON lines")

	// Accept --input_folder style flags used by existing CMake scripts.
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
}

func setup(cmd *cobra.Command, args []string) error {
	settings, err := cmd.Flags().GetString("settings")
	if err != nil {
		return err
	}

	files := []string{}
	if settings != "" {
		files = append(files, settings)
	} else if _, err := os.Stat(config.DefaultFile); err == nil {
		files = append(files, config.DefaultFile)
	}

	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, err = cmd.Flags().GetString("log-level")
		if err != nil {
			return err
		}
	}

	if cmd.Flags().Changed("json") {
		cfg.Log.JSON, err = cmd.Flags().GetBool("json")
		if err != nil {
			return err
		}
	}

	err = cfg.Validate()
	if err != nil {
		return err
	}

	appConfig = cfg
	logger = newLogger(cfg, os.Stderr)
	return nil
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	var w io.Writer = NewConsoleWriter(out)
	if cfg.Log.JSON {
		w = out
	}

	return zerolog.New(w).Level(cfg.LogLevel()).With().Timestamp().Logger()
}

func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	return logging.WithLogger(ctx, &logger)
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cobra.CheckErr(rootCmd.ExecuteContext(ctx))
}
