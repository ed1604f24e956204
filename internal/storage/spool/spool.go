// Package spool stores upload bytes as files in a local directory.
package spool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

const fileSuffix = ".part"

// Dir is a core.ChunkSpool writing one file per upload under a directory.
// Chunks are written with WriteAt so a retried chunk lands on the same bytes.
type Dir struct {
	root string
}

// New creates the directory if needed.
func New(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Dir{root: root}, nil
}

// path maps an upload id to its file. Ids are generated server side but are
// still reduced to a base name before use.
func (d *Dir) path(id string) (string, error) {
	name := filepath.Base(id)
	if name != id || name == "." || name == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid upload id %q", id)
	}
	return filepath.Join(d.root, name+fileSuffix), nil
}

func (d *Dir) WriteAt(_ context.Context, id string, offset int64, data []byte) error {
	p, err := d.path(id)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE, 0o640)
	if err != nil {
		return fmt.Errorf("open spool file: %w", err)
	}
	if _, err := f.WriteAt(data, offset); err != nil {
		f.Close()
		return fmt.Errorf("write chunk: %w", err)
	}
	return f.Close()
}

func (d *Dir) Open(_ context.Context, id string) (io.ReadCloser, error) {
	p, err := d.path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.ErrUploadNotFound
	}
	return f, err
}

func (d *Dir) Remove(_ context.Context, id string) error {
	p, err := d.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Purge removes spool files last modified before the cutoff.
func (d *Dir) Purge(ctx context.Context, before time.Time) (int, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(before) {
			if err := os.Remove(filepath.Join(d.root, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
