package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restore(t *testing.T) {
	t.Helper()
	level := Logger.GetLevel()
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		Logger.SetLevel(level)
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected log.Level
	}{
		{"debug", log.DebugLevel},
		{"INFO", log.InfoLevel},
		{"warn", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"fatal", log.FatalLevel},
		{"loud", log.InfoLevel},
		{"", log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestConfigure(t *testing.T) {
	restore(t)

	t.Run("flag beats environment", func(t *testing.T) {
		t.Setenv(EnvLogLevel, "error")
		require.NoError(t, Configure("debug", "", false))
		assert.Equal(t, log.DebugLevel, Logger.GetLevel())
	})

	t.Run("environment fallback", func(t *testing.T) {
		t.Setenv(EnvLogLevel, "WARN")
		require.NoError(t, Configure("", "", false))
		assert.Equal(t, log.WarnLevel, Logger.GetLevel())
	})

	t.Run("test mode pins info", func(t *testing.T) {
		require.NoError(t, Configure("debug", "", true))
		assert.Equal(t, log.InfoLevel, Logger.GetLevel())
	})

	t.Run("log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cyclone.log")
		require.NoError(t, Configure("info", path, false))
		Info("hello", "route", "/v1")
		NewStyledLogger("Server").Warn("component")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "hello")
		assert.Contains(t, string(data), "Server")
		SetOutput(os.Stderr)
	})

	t.Run("unwritable log file", func(t *testing.T) {
		assert.Error(t, Configure("info", filepath.Join(t.TempDir(), "missing", "x.log"), false))
	})
}

func TestStyledLoggerFollowsLevel(t *testing.T) {
	restore(t)

	var buf bytes.Buffer
	SetOutput(&buf)
	Logger.SetLevel(log.WarnLevel)

	l := NewStyledLogger("Mailbox")
	l.Info("hidden")
	l.Error("shown", "address", []string{"a"})

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "Mailbox")
}
