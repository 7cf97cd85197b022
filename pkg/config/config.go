package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`
	// PresetsDir holds the {uuid}_{name}.json preset files. Empty means the
	// presets directory next to the config file.
	PresetsDir string `yaml:"presets_dir"`
	// Profile is the profile advertised when none is given on the command line.
	Profile                string        `yaml:"profile"`
	NotifyInterval         time.Duration `yaml:"notify_interval" default:"1s"`
	ScriptInstructionLimit int           `yaml:"script_instruction_limit" default:"10000000"`
	LogBufferSize          int           `yaml:"log_buffer_size" default:"256"`
	RecentLogSize          uint32        `yaml:"recent_log_size" default:"512"`
	Sentinel               string        `yaml:"sentinel" default:"No Execution"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Dir is the per-user configuration directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(base, "gattsim"), nil
}

// DefaultPath is the config file used when --config is not given.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the YAML file at path over the defaults. A missing file yields
// the defaults. Unset PresetsDir resolves next to the config file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config %s: %w", path, err)
		}
	}

	if cfg.PresetsDir == "" {
		cfg.PresetsDir = filepath.Join(filepath.Dir(path), "presets")
	}
	cfg.PresetsDir = expandHome(cfg.PresetsDir)
	cfg.Profile = expandHome(cfg.Profile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.NotifyInterval <= 0 {
		errs = append(errs, fmt.Errorf("notify_interval must be positive, got %s", c.NotifyInterval))
	}
	if c.ScriptInstructionLimit < 0 {
		errs = append(errs, fmt.Errorf("script_instruction_limit must not be negative, got %d", c.ScriptInstructionLimit))
	}
	if c.LogBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("log_buffer_size must be positive, got %d", c.LogBufferSize))
	}
	if c.Sentinel == "" {
		errs = append(errs, errors.New("sentinel must not be empty"))
	}
	return errors.Join(errs...)
}

// ParseLogLevel accepts debug, info, warn, error and trace.
func ParseLogLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info", "":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	}
	return logrus.InfoLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	level, _ := ParseLogLevel(c.LogLevel)

	logger := logrus.New()
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
