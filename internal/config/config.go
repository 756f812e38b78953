// Package config resolves imgtriage settings from flags, TRIAGE_* environment
// variables, an optional config file and built-in defaults, in that order.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ilexum-group/imgtriage/internal/utils"
)

// EnvPrefix prefixes every environment variable, e.g. TRIAGE_OUTPUT
const EnvPrefix = "TRIAGE"

// Setting keys, shared by flags, environment and config file
const (
	KeyImage     = "image"
	KeyOutput    = "output"
	KeyDB        = "db"
	KeyThreads   = "threads"
	KeyLogLevel  = "log-level"
	KeyArtifacts = "artifacts"
	KeyConfig    = "config"
)

// DefaultOutput is the default output directory
const DefaultOutput = "output"

// ErrInvalid is returned when a resolved setting is out of range
var ErrInvalid = errors.New("invalid configuration")

// Config holds the configuration for a triage run
type Config struct {
	Image      string
	Output     string
	DB         string
	Threads    int
	LogLevel   string
	Artifacts  string
	ConfigFile string
}

// RegisterFlags adds the configuration flags to fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(KeyImage, "", "Path to the disk image (also accepted as the first argument)")
	fs.StringP(KeyOutput, "o", DefaultOutput, "Directory that receives triage_results.json")
	fs.String(KeyDB, "", "Also store the report in this SQLite case database")
	fs.IntP(KeyThreads, "t", runtime.NumCPU(), "Worker threads for artifact metadata collection")
	fs.String(KeyLogLevel, "info", "Minimum log severity (debug, info, warning, error)")
	fs.String(KeyArtifacts, "", "YAML file replacing the built-in artifact definitions")
	fs.StringP(KeyConfig, "c", "", "Config file (YAML, TOML or JSON)")
}

// Load resolves the configuration for flags already parsed into fs
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyOutput, DefaultOutput)
	v.SetDefault(KeyThreads, runtime.NumCPU())
	v.SetDefault(KeyLogLevel, "info")

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if file := v.GetString(KeyConfig); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		Image:      v.GetString(KeyImage),
		Output:     v.GetString(KeyOutput),
		DB:         v.GetString(KeyDB),
		Threads:    v.GetInt(KeyThreads),
		LogLevel:   strings.ToLower(v.GetString(KeyLogLevel)),
		Artifacts:  v.GetString(KeyArtifacts),
		ConfigFile: v.GetString(KeyConfig),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFlags parses args into a fresh flag set and resolves the configuration
func LoadFromFlags(args []string) (*Config, error) {
	fs := pflag.NewFlagSet(utils.AppName, pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return Load(fs)
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Threads < 1 {
		return fmt.Errorf("%w: threads must be at least 1, got %d", ErrInvalid, c.Threads)
	}
	if c.Output == "" {
		return fmt.Errorf("%w: output directory is empty", ErrInvalid)
	}
	if _, err := utils.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
