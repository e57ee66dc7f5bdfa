package diagnostics

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemCheckerHealthy(t *testing.T) {
	dir := t.TempDir()

	c := NewFilesystemChecker(FilesystemCheckerConfig{RequiredDirs: []string{dir}}, nil)
	res, err := c.Check(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusPass, res.Status)
	assert.Empty(t, res.Issues)
	assert.Contains(t, res.Details, "disk_used_percent")
}

func TestFilesystemCheckerMissingDirFixedByAutoFix(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "data", "blobs")

	c := NewFilesystemChecker(FilesystemCheckerConfig{RequiredDirs: []string{missing}}, nil)
	res, err := c.Check(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusError, res.Status)
	require.Len(t, res.Issues, 1)
	assert.True(t, res.Issues[0].AutoFixable)

	fixes, err := c.AutoFix(context.Background(), res.Issues, nil)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.True(t, fixes[0].Success)

	info, err := os.Stat(missing)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	after, err := c.Check(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPass, after.Status)
}

func TestFilesystemCheckerFileInsteadOfDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notadir")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	c := NewFilesystemChecker(FilesystemCheckerConfig{RequiredDirs: []string{path}}, nil)
	res, err := c.Check(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusError, res.Status)
	require.Len(t, res.Issues, 1)
	assert.False(t, res.Issues[0].AutoFixable)
	assert.Contains(t, res.Issues[0].Message, "not a directory")
}

func TestFilesystemCheckerAutoFixIgnoresForeignIssues(t *testing.T) {
	c := NewFilesystemChecker(FilesystemCheckerConfig{}, nil)

	foreign := c.NewIssue(SeverityLow, "unrelated", IssueOptions{
		Details: map[string]interface{}{"fix": "vacuum"},
	})
	fixes, err := c.AutoFix(context.Background(), []Issue{foreign}, nil)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.False(t, fixes[0].Success)
}
