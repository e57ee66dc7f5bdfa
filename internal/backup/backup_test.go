package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBackupArchivesDataDir(t *testing.T) {
	dataDir := t.TempDir()
	outDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "blobs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "app.db"), []byte("db bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "blobs", "b1"), []byte("blob"), 0o644))

	f := NewTarballFacility(nil)
	res, err := f.CreateBackup(context.Background(), Options{
		DataDir:   dataDir,
		OutputDir: outDir,
		Label:     "storage",
	})
	require.NoError(t, err)

	assert.Contains(t, res.ID, "storage-")
	assert.FileExists(t, res.TarballPath)

	names := tarballEntries(t, res.TarballPath)
	assert.Contains(t, names, "app.db")
	assert.Contains(t, names, "blobs/b1")
}

func TestCreateBackupValidatesOptions(t *testing.T) {
	f := NewTarballFacility(nil)

	_, err := f.CreateBackup(context.Background(), Options{OutputDir: t.TempDir()})
	assert.Error(t, err)

	_, err = f.CreateBackup(context.Background(), Options{DataDir: t.TempDir()})
	assert.Error(t, err)
}

func TestCreateBackupMissingDataDir(t *testing.T) {
	f := NewTarballFacility(nil)
	_, err := f.CreateBackup(context.Background(), Options{
		DataDir:   filepath.Join(t.TempDir(), "nope"),
		OutputDir: t.TempDir(),
	})
	assert.Error(t, err)
}

func tarballEntries(t *testing.T, path string) []string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	gz, err := gzip.NewReader(file)
	require.NoError(t, err)
	defer gz.Close()

	var names []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	return names
}
