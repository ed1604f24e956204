package memory

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

type spoolEntry struct {
	data    []byte
	touched time.Time
}

// Spool is a core.ChunkSpool holding upload bytes in memory.
type Spool struct {
	mu    sync.Mutex
	files map[string]*spoolEntry
	now   func() time.Time
}

func NewSpool() *Spool {
	return &Spool{files: make(map[string]*spoolEntry), now: time.Now}
}

func (s *Spool) WriteAt(_ context.Context, id string, offset int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.files[id]
	if !ok {
		e = &spoolEntry{}
		s.files[id] = e
	}
	if end := offset + int64(len(data)); end > int64(len(e.data)) {
		grown := make([]byte, end)
		copy(grown, e.data)
		e.data = grown
	}
	copy(e.data[offset:], data)
	e.touched = s.now()
	return nil
}

// Open returns a reader over a copy of the spooled bytes.
func (s *Spool) Open(_ context.Context, id string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.files[id]
	if !ok {
		return nil, core.ErrUploadNotFound
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(e.data))), nil
}

func (s *Spool) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.files, id)
	s.mu.Unlock()
	return nil
}

func (s *Spool) Purge(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, e := range s.files {
		if e.touched.Before(before) {
			delete(s.files, id)
			n++
		}
	}
	return n, nil
}
