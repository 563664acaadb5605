package build

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// ConfigFile is the name of the optional project configuration file
const ConfigFile = "devbox.toml"

// Config describes all configuration options
type Config struct {
	OutDir   string   `default:"build" env:"OUT_DIR" toml:"out_dir" usage:"Output directory, relative to the project root"`
	Profile  string   `default:"debug" env:"PROFILE" toml:"profile" usage:"Build profile (debug or release)"`
	Features []string `env:"FEATURES" toml:"features" usage:"Enabled optional features"`
	Jobs     int      `env:"JOBS" toml:"jobs" usage:"Number of parallel jobs tools should use (0 = number of CPUs)"`
	Log      struct {
		Level string `default:"info" env:"LEVEL" toml:"level"`
		JSON  bool   `default:"false" env:"JSON" toml:"json" usage:"Output JSONND instead of pretty console messages"`
	} `env:"LOG" toml:"log"`
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// LoadConfig reads the configuration from the environment (DEVBOX_*) and root/devbox.toml
func LoadConfig(root string) (*Config, error) {
	cfg := Config{}
	files := []string{}

	configPath := filepath.Join(root, ConfigFile)
	if _, err := os.Stat(configPath); err == nil {
		files = append(files, configPath)
	}

	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "DEVBOX",
		SkipFlags: true,
		// DEVBOX_CFG_* and DEVBOX_DEBUG are read elsewhere
		AllowUnknownEnvs: true,
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})

	err := loader.Load()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load configuration")
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	if cfg.OutDir == "" {
		return eris.New("Invalid value for outdir: must not be empty")
	}

	if filepath.IsAbs(cfg.OutDir) {
		return eris.Errorf("Invalid value for outdir: %s (must be relative to the project root)", cfg.OutDir)
	}

	switch cfg.Profile {
	case "debug", "release":
	default:
		return eris.Errorf("Invalid value for profile: %s (must be one of debug or release)", cfg.Profile)
	}

	if cfg.Jobs < 0 {
		return eris.Errorf("Invalid value for jobs: %d", cfg.Jobs)
	}

	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf("Invalid value for log.level: %s", cfg.Log.Level)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// JobCount returns the configured job count or the number of CPUs if none was set
func (cfg *Config) JobCount() int {
	if cfg.Jobs > 0 {
		return cfg.Jobs
	}

	return runtime.NumCPU()
}
