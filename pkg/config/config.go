package config

import (
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// DefaultFile is looked up in the working directory when no other config file is passed
const DefaultFile = "prevtools.toml"

// Config describes all configuration options
type Config struct {
	Log struct {
		Level string `default:"info" usage:"Minimum log level (debug, info, warn, error)"`
		JSON  bool   `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}
	Shaders struct {
		Compiler   string        `usage:"Path to the shader compiler (defaults to $VULKAN_SDK/Bin/glslc or glslc)"`
		Flags      string        `usage:"Extra compiler flags, split with shell quoting rules"`
		StaleAfter time.Duration `default:"24h" usage:"Shaders modified more recently than this are recompiled"`
		Jobs       int           `default:"0" usage:"Maximum number of concurrent compiler processes (0 = unlimited)"`
	}
	Fetch struct {
		Endpoint  string        `default:"https://docs.google.com/uc?export=download" usage:"Download endpoint for file IDs"`
		ChunkSize int           `default:"32768" usage:"Read size for downloads in bytes"`
		Timeout   time.Duration `default:"30m" usage:"HTTP timeout for a single download"`
	}
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// Values are read from struct defaults, the passed TOML files and PREV_* environment variables.
// Flags are left to cobra.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix:        "PREV",
		AllowUnknownEnvs: true,
		SkipFlags:        true,
		SkipFiles:        len(files) == 0,
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads and validates the configuration
func Load(files ...string) (*Config, error) {
	cfg, loader := Loader(files...)
	err := loader.Load()
	if err != nil {
		return nil, eris.Wrap(err, "Failed to load configuration")
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.Shaders.StaleAfter <= 0 {
		return eris.Errorf(`Invalid value for shaders.staleafter: %s`, cfg.Shaders.StaleAfter)
	}

	if cfg.Shaders.Jobs < 0 {
		return eris.Errorf(`Invalid value for shaders.jobs: %d`, cfg.Shaders.Jobs)
	}

	if cfg.Fetch.ChunkSize <= 0 {
		return eris.Errorf(`Invalid value for fetch.chunksize: %d`, cfg.Fetch.ChunkSize)
	}

	if cfg.Fetch.Endpoint == "" {
		return eris.New(`fetch.endpoint must not be empty`)
	}

	return nil
}

// LogLevel returns the zerolog level for cfg.Log.Level. Call Validate first.
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}
