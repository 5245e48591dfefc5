// Package config loads cyclone's settings from defaults, .env files, CYCLONE_ environment
// variables, an optional YAML file and CLI flags, each layer overriding the one before.
package config

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable cyclone reads.
const EnvPrefix = "CYCLONE_"

// KeyConfigFile is the viper key naming an optional YAML config file.
const KeyConfigFile = "config"

var (
	// ErrInvalidConfig is wrapped by every validation failure.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config holds every setting of the server and CLI.
type Config struct {
	Host            string        `env:"HOST" envDefault:"127.0.0.1" mapstructure:"host" yaml:"host"`
	Port            int           `env:"PORT" envDefault:"9000" mapstructure:"port" yaml:"port"`
	DefaultRoute    string        `env:"DEFAULT_ROUTE" envDefault:"/v1" mapstructure:"default-route" yaml:"default-route"`
	Prefix          string        `env:"PREFIX" mapstructure:"prefix" yaml:"prefix"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info" mapstructure:"log-level" yaml:"log-level"`
	LogFile         string        `env:"LOG_FILE" mapstructure:"log-file" yaml:"log-file"`
	TestMode        bool          `env:"TEST_MODE" mapstructure:"test-mode" yaml:"test-mode"`
	OTelEndpoint    string        `env:"OTEL_ENDPOINT" mapstructure:"otel-endpoint" yaml:"otel-endpoint"`
	Greeting        bool          `env:"GREETING" envDefault:"true" mapstructure:"greeting" yaml:"greeting"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s" mapstructure:"shutdown-timeout" yaml:"shutdown-timeout"`
	MaxDepth        int           `env:"MAX_DEPTH" envDefault:"0" mapstructure:"max-depth" yaml:"max-depth"`
}

// Keys lists the viper keys Load reads, matching the mapstructure tags of Config.
var Keys = []string{
	"host", "port", "default-route", "prefix", "log-level", "log-file",
	"test-mode", "otel-endpoint", "greeting", "shutdown-timeout", "max-depth",
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port))
	}
	if !strings.HasPrefix(c.DefaultRoute, "/") {
		errs = append(errs, fmt.Errorf("%w: default route %q must start with /", ErrInvalidConfig, c.DefaultRoute))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error", "fatal":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.LogLevel))
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: negative shutdown timeout", ErrInvalidConfig))
	}
	if c.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("%w: negative max depth", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// Loader reads the configuration layers. Zero fields fall back to the user's config dir, the
// working directory and the process environment.
type Loader struct {
	ConfigDir string
	WorkDir   string
	Environ   func() []string
	Viper     *viper.Viper
}

// Load reads the configuration with the default loader, applying flags and the config file
// bound to v. v may be nil.
func Load(v *viper.Viper) (*Config, error) {
	return (&Loader{Viper: v}).Load()
}

// Load reads every layer and validates the result.
func (l *Loader) Load() (*Config, error) {
	environment, err := l.environment()
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix, Environment: environment}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if l.Viper != nil {
		if err := applyViper(cfg, l.Viper); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// environment merges the config dir .env, the working directory .env and the process
// environment, later sources winning.
func (l *Loader) environment() (map[string]string, error) {
	merged := make(map[string]string)

	configDir := l.ConfigDir
	if configDir == "" {
		if dir, err := UserConfigDir(); err == nil {
			configDir = dir
		}
	}
	workDir := l.WorkDir
	if workDir == "" {
		dir, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		workDir = dir
	}

	for _, dir := range []string{configDir, workDir} {
		if dir == "" {
			continue
		}
		values, err := readDotEnv(filepath.Join(dir, ".env"))
		if err != nil {
			return nil, err
		}
		maps.Copy(merged, values)
	}

	environ := l.Environ
	if environ == nil {
		environ = os.Environ
	}
	for _, kv := range environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			merged[key] = value
		}
	}
	return merged, nil
}

// readDotEnv parses path. A missing file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read .env file %s: %w", path, err)
	}

	values, err := godotenv.Unmarshal(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse .env file %s: %w", path, err)
	}
	return values, nil
}

// applyViper overrides cfg with the keys set in v's config file or changed on the command line.
// Flag defaults are ignored so they never mask the environment.
func applyViper(cfg *Config, v *viper.Viper) error {
	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	overrides := make(map[string]any)
	for _, key := range Keys {
		if v.IsSet(key) {
			overrides[key] = v.Get(key)
		}
	}
	if len(overrides) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("build config decoder: %w", err)
	}
	if err := decoder.Decode(overrides); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// UserConfigDir returns $XDG_CONFIG_HOME/cyclone, or ~/.config/cyclone.
func UserConfigDir() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		configHome = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configHome, "cyclone"), nil
}
