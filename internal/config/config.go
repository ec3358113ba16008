package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/metabase-mcp/internal/envfile"
)

const (
	defaultCommand       = "python"
	defaultLogLevel      = "warn"
	defaultRelayInterval = 0
)

// Environment variables read by the launcher itself. They configure how the
// server is started and are not forwarded specially: the server inherits them
// like everything else.
const (
	EnvRoot          = "MCP_LAUNCHER_ROOT"
	EnvEnvFile       = "MCP_LAUNCHER_ENV_FILE"
	EnvCommand       = "MCP_LAUNCHER_COMMAND"
	EnvLogLevel      = "MCP_LAUNCHER_LOG_LEVEL"
	EnvRelayInterval = "MCP_LAUNCHER_RELAY_INTERVAL"
)

var defaultArgs = []string{"server.py"}

// Config aggregates launcher settings resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	// Root is the installation root. Empty means "derive from the executable".
	Root string `yaml:"root"`
	// EnvFile is the environment file; relative paths are resolved against Root.
	EnvFile       string        `yaml:"env_file"`
	Command       string        `yaml:"command"`
	Args          []string      `yaml:"args"`
	LogLevel      string        `yaml:"log_level"`
	RelayInterval time.Duration `yaml:"relay_interval"`
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Root          string   `yaml:"root"`
	EnvFile       string   `yaml:"env_file"`
	Command       string   `yaml:"command"`
	Args          []string `yaml:"args"`
	LogLevel      string   `yaml:"log_level"`
	RelayInterval string   `yaml:"relay_interval"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile    string
	Root          *string
	EnvFile       *string
	Command       *string
	Args          []string
	LogLevel      *string
	RelayInterval *time.Duration
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	// Environment first so that YAML and flags can override it.
	if err := applyEnvConfig(&cfg); err != nil {
		return Config{}, err
	}

	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config: %w", err)
		}
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		EnvFile:       envfile.DefaultName,
		Command:       defaultCommand,
		Args:          append([]string(nil), defaultArgs...),
		LogLevel:      defaultLogLevel,
		RelayInterval: defaultRelayInterval,
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	if yamlCfg.Root != "" {
		cfg.Root = yamlCfg.Root
	}

	if yamlCfg.EnvFile != "" {
		cfg.EnvFile = yamlCfg.EnvFile
	}

	// A command replaces the whole command line, including the default arguments.
	if yamlCfg.Command != "" {
		cfg.Command = yamlCfg.Command
		cfg.Args = yamlCfg.Args
	} else if yamlCfg.Args != nil {
		cfg.Args = yamlCfg.Args
	}

	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}

	if yamlCfg.RelayInterval != "" {
		d, err := time.ParseDuration(yamlCfg.RelayInterval)
		if err != nil {
			return fmt.Errorf("relay_interval: %w", err)
		}
		cfg.RelayInterval = d
	}

	return nil
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) error {
	if root := strings.TrimSpace(os.Getenv(EnvRoot)); root != "" {
		cfg.Root = root
	}

	if envFile := strings.TrimSpace(os.Getenv(EnvEnvFile)); envFile != "" {
		cfg.EnvFile = envFile
	}

	if command := strings.Fields(os.Getenv(EnvCommand)); len(command) > 0 {
		cfg.Command = command[0]
		cfg.Args = command[1:]
	}

	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		cfg.LogLevel = level
	}

	if raw := strings.TrimSpace(os.Getenv(EnvRelayInterval)); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRelayInterval, err)
		}
		cfg.RelayInterval = d
	}

	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Root != nil && *overrides.Root != "" {
		cfg.Root = *overrides.Root
	}

	if overrides.EnvFile != nil && *overrides.EnvFile != "" {
		cfg.EnvFile = *overrides.EnvFile
	}

	if overrides.Command != nil && *overrides.Command != "" {
		cfg.Command = *overrides.Command
		cfg.Args = overrides.Args
	} else if overrides.Args != nil {
		cfg.Args = overrides.Args
	}

	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}

	if overrides.RelayInterval != nil {
		cfg.RelayInterval = *overrides.RelayInterval
	}
}

// validateConfig reports every problem with the final configuration.
func validateConfig(cfg Config) error {
	var err error
	if strings.TrimSpace(cfg.Command) == "" {
		err = multierr.Append(err, fmt.Errorf("command must not be empty"))
	}
	if strings.TrimSpace(cfg.EnvFile) == "" {
		err = multierr.Append(err, fmt.Errorf("env file path must not be empty"))
	}
	if cfg.RelayInterval < 0 {
		err = multierr.Append(err, fmt.Errorf("relay interval must be >= 0, got %s", cfg.RelayInterval))
	}
	if _, levelErr := zapcore.ParseLevel(cfg.LogLevel); levelErr != nil {
		err = multierr.Append(err, fmt.Errorf("log level: %w", levelErr))
	}
	return err
}
