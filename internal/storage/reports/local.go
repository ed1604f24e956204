// Package reports stores the failed-row CSV reports of finished imports,
// either in a local directory or in an S3 bucket.
package reports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

// Local keeps reports as <jobID>.csv files under a directory.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) path(jobID string) (string, error) {
	if jobID == "" || filepath.Base(jobID) != jobID || jobID == ".." {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}
	return filepath.Join(l.root, jobID+".csv"), nil
}

// Put writes the report through a temp file so readers never see a partial
// report.
func (l *Local) Put(_ context.Context, jobID string, r io.Reader, _ int64) error {
	p, err := l.path(jobID)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(l.root, ".report-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (l *Local) Open(_ context.Context, jobID string) (io.ReadCloser, error) {
	p, err := l.path(jobID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.ErrReportNotFound
	}
	return f, err
}
