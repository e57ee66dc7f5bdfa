// Package backup provides the tarball backup facility checkers may use
// before applying a mutating fix. A backup failure is advisory: fixes log
// it and proceed.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/archivio/doctor/internal/logging"
)

// Options names the data to back up and where the tarball goes.
type Options struct {
	DataDir   string
	OutputDir string
	Label     string
}

// Result identifies a completed backup.
type Result struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	TarballPath string    `json:"tarball_path"`
}

// Facility is the backup contract consumed by checkers.
type Facility interface {
	CreateBackup(ctx context.Context, opts Options) (*Result, error)
}

// TarballFacility writes gzipped tar archives of a data directory.
type TarballFacility struct {
	log logging.Logger
}

// NewTarballFacility builds the default facility.
func NewTarballFacility(log logging.Logger) *TarballFacility {
	if log == nil {
		log = logging.NewNop()
	}
	return &TarballFacility{log: log}
}

// CreateBackup archives opts.DataDir into opts.OutputDir. The archive name
// carries the label and a timestamp, which doubles as the backup ID.
func (f *TarballFacility) CreateBackup(ctx context.Context, opts Options) (*Result, error) {
	if opts.DataDir == "" {
		return nil, errors.New("backup: data directory not set")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("backup: output directory not set")
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "backup: create output directory")
	}

	label := opts.Label
	if label == "" {
		label = "data"
	}
	now := time.Now()
	id := fmt.Sprintf("%s-%s", label, now.Format("20060102-150405"))
	path := filepath.Join(opts.OutputDir, id+".tar.gz")

	out, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "backup: create tarball")
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(opts.DataDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(opts.DataDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		tw.Close()
		gz.Close()
		os.Remove(path)
		return nil, errors.Wrap(err, "backup: archive data directory")
	}
	if err := tw.Close(); err != nil {
		return nil, errors.Wrap(err, "backup: finalize archive")
	}
	if err := gz.Close(); err != nil {
		return nil, errors.Wrap(err, "backup: finalize compression")
	}

	f.log.Info("backup created", logging.Fields{
		"id":   id,
		"path": path,
	})
	return &Result{ID: id, Timestamp: now, TarballPath: path}, nil
}
