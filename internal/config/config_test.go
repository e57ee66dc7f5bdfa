package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.CheckTimeout)
	assert.Equal(t, 2, cfg.MaxConcurrency)
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 100, cfg.CacheMaxSize)
	assert.Equal(t, 2048, cfg.MaxMemoryMB)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "data/archivio.db", cfg.DatabasePath)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doctor.yaml")
	content := "check_timeout: 5s\nmax_concurrency: 4\ndatabase_path: /var/lib/archivio/app.db\nlog_level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.CheckTimeout)
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.Equal(t, "/var/lib/archivio/app.db", cfg.DatabasePath)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Unset keys keep their defaults.
	assert.Equal(t, 3, cfg.FailureThreshold)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ARCHIVIO_DOCTOR_MAX_CONCURRENCY", "8")
	t.Setenv("ARCHIVIO_DOCTOR_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
