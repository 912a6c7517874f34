package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("create logger with console output", func(t *testing.T) {
		cfg := Config{
			Level:   "info",
			Console: true,
			Pretty:  false,
		}

		l, err := New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, l)
		l.Close()
	})

	t.Run("create logger with file output", func(t *testing.T) {
		tmpDir := t.TempDir()
		logFile := filepath.Join(tmpDir, "test.log")

		cfg := Config{
			Level:   "debug",
			File:    logFile,
			Console: false,
		}

		l, err := New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, l)

		zl := l.GetZerolog()
		zl.Info().Msg("test message")
		l.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		l, err := New(Config{Level: "nope", Console: true})
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, l.GetZerolog().GetLevel())
		l.Close()
	})

	t.Run("creates nested log directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		logFile := filepath.Join(tmpDir, "nested", "dir", "test.log")

		l, err := New(Config{Level: "info", File: logFile})
		require.NoError(t, err)
		defer l.Close()

		_, err = os.Stat(filepath.Dir(logFile))
		assert.NoError(t, err)
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
}
