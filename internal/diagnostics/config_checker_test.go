package diagnostics

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfigCheckerConfig(path string) ConfigCheckerConfig {
	return ConfigCheckerConfig{
		Path:         path,
		RequiredKeys: []string{"storage.path", "server.port"},
		Defaults: map[string]interface{}{
			"storage.path": "data/archivio.db",
			"server.port":  8420,
		},
	}
}

func TestConfigCheckerCompleteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archivio.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  path: data/archivio.db\nserver:\n  port: 8420\n"), 0o644))

	c := NewConfigChecker(testConfigCheckerConfig(path), nil)
	res, err := c.Check(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusPass, res.Status)
	assert.Empty(t, res.Issues)
}

func TestConfigCheckerMissingFileFixedByAutoFix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archivio.yaml")

	c := NewConfigChecker(testConfigCheckerConfig(path), nil)
	res, err := c.Check(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusError, res.Status)
	require.Len(t, res.Issues, 1)
	assert.True(t, res.Issues[0].AutoFixable, "defaults cover every required key")

	fixes, err := c.AutoFix(context.Background(), res.Issues, nil)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.True(t, fixes[0].Success)

	after, err := c.Check(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPass, after.Status)
}

func TestConfigCheckerMissingKeysFixedByAutoFix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archivio.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  path: data/custom.db\n"), 0o644))

	c := NewConfigChecker(testConfigCheckerConfig(path), nil)
	res, err := c.Check(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusError, res.Status)
	require.Len(t, res.Issues, 1)
	assert.True(t, res.Issues[0].AutoFixable)
	assert.Contains(t, res.Details, "missing_keys")

	fixes, err := c.AutoFix(context.Background(), res.Issues, nil)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.True(t, fixes[0].Success)

	// Existing values survive the rewrite; missing keys get defaults.
	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	assert.Equal(t, "data/custom.db", v.GetString("storage.path"))
	assert.Equal(t, 8420, v.GetInt("server.port"))
}

func TestConfigCheckerUnparseableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archivio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n  - {bad yaml"), 0o644))

	c := NewConfigChecker(testConfigCheckerConfig(path), nil)
	res, err := c.Check(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusError, res.Status)
	require.Len(t, res.Issues, 1)
	assert.False(t, res.Issues[0].AutoFixable, "corrupt files need a human")
}

func TestConfigCheckerNoDefaultsNotFixable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archivio.yaml")
	cfg := testConfigCheckerConfig(path)
	cfg.Defaults = nil

	c := NewConfigChecker(cfg, nil)
	res, err := c.Check(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, res.Issues, 1)
	assert.False(t, res.Issues[0].AutoFixable)
}
