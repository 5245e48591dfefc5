package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func environ(kv ...string) func() []string {
	return func() []string { return kv }
}

func TestLoad_Defaults(t *testing.T) {
	loader := &Loader{ConfigDir: t.TempDir(), WorkDir: t.TempDir(), Environ: environ()}

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, &Config{
		Host:            "127.0.0.1",
		Port:            9000,
		DefaultRoute:    "/v1",
		LogLevel:        "info",
		Greeting:        true,
		ShutdownTimeout: 5 * time.Second,
	}, cfg)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
}

func TestLoad_Layers(t *testing.T) {
	configDir := t.TempDir()
	workDir := t.TempDir()
	writeFile(t, configDir, ".env", "CYCLONE_PORT=9100\nCYCLONE_HOST=0.0.0.0\nCYCLONE_PREFIX=api\n")
	writeFile(t, workDir, ".env", "CYCLONE_PORT=9200\nCYCLONE_LOG_LEVEL=debug\n")

	tests := []struct {
		name     string
		environ  []string
		viper    func(t *testing.T) *viper.Viper
		expected func(cfg *Config)
	}{
		{
			name: "dotenv files",
			expected: func(cfg *Config) {
				cfg.Port = 9200
				cfg.Host = "0.0.0.0"
				cfg.Prefix = "api"
				cfg.LogLevel = "debug"
			},
		},
		{
			name:    "environment beats dotenv",
			environ: []string{"CYCLONE_PORT=9300", "CYCLONE_GREETING=false", "CYCLONE_SHUTDOWN_TIMEOUT=250ms", "OTHER_PORT=1"},
			expected: func(cfg *Config) {
				cfg.Port = 9300
				cfg.Host = "0.0.0.0"
				cfg.Prefix = "api"
				cfg.LogLevel = "debug"
				cfg.Greeting = false
				cfg.ShutdownTimeout = 250 * time.Millisecond
			},
		},
		{
			name:    "flags beat environment",
			environ: []string{"CYCLONE_PORT=9300"},
			viper: func(_ *testing.T) *viper.Viper {
				v := viper.New()
				v.Set("port", 9400)
				v.Set("test-mode", true)
				return v
			},
			expected: func(cfg *Config) {
				cfg.Port = 9400
				cfg.Host = "0.0.0.0"
				cfg.Prefix = "api"
				cfg.LogLevel = "debug"
				cfg.TestMode = true
			},
		},
		{
			name: "config file",
			viper: func(t *testing.T) *viper.Viper {
				path := writeFile(t, t.TempDir(), "cyclone.yaml", "host: example.test\nmax-depth: 8\nshutdown-timeout: 2s\notel-endpoint: http://collector:4318\n")
				v := viper.New()
				v.Set(KeyConfigFile, path)
				return v
			},
			expected: func(cfg *Config) {
				cfg.Port = 9200
				cfg.Host = "example.test"
				cfg.Prefix = "api"
				cfg.LogLevel = "debug"
				cfg.MaxDepth = 8
				cfg.ShutdownTimeout = 2 * time.Second
				cfg.OTelEndpoint = "http://collector:4318"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := &Loader{ConfigDir: configDir, WorkDir: workDir, Environ: environ(tt.environ...)}
			if tt.viper != nil {
				loader.Viper = tt.viper(t)
			}

			expected := &Config{
				Host:            "127.0.0.1",
				Port:            9000,
				DefaultRoute:    "/v1",
				LogLevel:        "info",
				Greeting:        true,
				ShutdownTimeout: 5 * time.Second,
			}
			tt.expected(expected)

			cfg, err := loader.Load()
			require.NoError(t, err)
			assert.Equal(t, expected, cfg)
		})
	}
}

func TestLoad_FlagDefaultsDoNotMaskEnvironment(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 9000, "")
	flags.String("host", "127.0.0.1", "")
	require.NoError(t, flags.Parse([]string{"--host", "10.0.0.1"}))

	v := viper.New()
	require.NoError(t, v.BindPFlags(flags))

	loader := &Loader{ConfigDir: t.TempDir(), WorkDir: t.TempDir(), Environ: environ("CYCLONE_PORT=9500"), Viper: v}
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 9500, cfg.Port)
	assert.Equal(t, "10.0.0.1", cfg.Host)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		environ []string
		dotenv  string
		viper   func(t *testing.T) *viper.Viper
		invalid bool
	}{
		{name: "bad port", environ: []string{"CYCLONE_PORT=http"}},
		{name: "port out of range", environ: []string{"CYCLONE_PORT=70000"}, invalid: true},
		{name: "route without slash", environ: []string{"CYCLONE_DEFAULT_ROUTE=v1"}, invalid: true},
		{name: "unknown log level", environ: []string{"CYCLONE_LOG_LEVEL=loud"}, invalid: true},
		{name: "negative depth", environ: []string{"CYCLONE_MAX_DEPTH=-1"}, invalid: true},
		{name: "broken dotenv", dotenv: "CYCLONE_PORT='9000\n"},
		{
			name: "missing config file",
			viper: func(t *testing.T) *viper.Viper {
				v := viper.New()
				v.Set(KeyConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))
				return v
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workDir := t.TempDir()
			if tt.dotenv != "" {
				writeFile(t, workDir, ".env", tt.dotenv)
			}
			loader := &Loader{ConfigDir: t.TempDir(), WorkDir: workDir, Environ: environ(tt.environ...)}
			if tt.viper != nil {
				loader.Viper = tt.viper(t)
			}

			_, err := loader.Load()
			require.Error(t, err)
			if tt.invalid {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	dir, err := UserConfigDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/xdg/cyclone", dir)
}
