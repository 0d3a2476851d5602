package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 25, cfg.Allocation.TargetRatio)
	assert.Equal(t, 50, cfg.Allocation.MaxRatio)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 30*time.Second, cfg.GetTimeout())
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("CANVAS_API_TOKEN", "")
	t.Setenv("CANVAS_BASE_URL", "")

	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Canvas.BaseURL = "https://lms.example.edu"
	cfg.Canvas.APIToken = "tok-test"
	cfg.Allocation.TargetRatio = 20
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://lms.example.edu", loaded.Canvas.BaseURL)
	assert.Equal(t, "tok-test", loaded.Canvas.APIToken)
	assert.Equal(t, 20, loaded.Allocation.TargetRatio)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("CANVAS_API_TOKEN", "")
	t.Setenv("CANVAS_BASE_URL", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("token and URL come from the environment", func(t *testing.T) {
		t.Setenv("CANVAS_API_TOKEN", "env-token")
		t.Setenv("CANVAS_BASE_URL", "https://env.example.edu")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "env-token", cfg.Canvas.APIToken)
		assert.Equal(t, "https://env.example.edu", cfg.Canvas.BaseURL)
	})

	t.Run("environment wins over the file", func(t *testing.T) {
		t.Setenv("CANVAS_API_TOKEN", "env-token")
		t.Setenv("CANVAS_BASE_URL", "")

		path := filepath.Join(t.TempDir(), "config.yaml")
		cfg := DefaultConfig()
		cfg.Canvas.APIToken = "file-token"
		require.NoError(t, cfg.Save(path))

		loaded, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "env-token", loaded.Canvas.APIToken)
	})

	t.Run("log level override", func(t *testing.T) {
		t.Setenv("SECTIONMGR_LOG_LEVEL", "debug")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "debug", cfg.Logging.Level)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Canvas.BaseURL = "https://lms.example.edu"
		cfg.Canvas.APIToken = "tok"
		return cfg
	}

	t.Run("complete config passes", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing base URL", func(t *testing.T) {
		cfg := valid()
		cfg.Canvas.BaseURL = ""
		assert.ErrorContains(t, cfg.Validate(), "base_url")
	})

	t.Run("missing token", func(t *testing.T) {
		cfg := valid()
		cfg.Canvas.APIToken = ""
		assert.ErrorContains(t, cfg.Validate(), "api_token")
	})

	t.Run("max ratio below target", func(t *testing.T) {
		cfg := valid()
		cfg.Allocation.MaxRatio = 10
		assert.ErrorContains(t, cfg.Validate(), "max_ratio")
	})
}
