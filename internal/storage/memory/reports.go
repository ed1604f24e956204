package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

// Reports is a core.ReportStore keeping error reports in memory.
type Reports struct {
	mu      sync.RWMutex
	reports map[string][]byte
}

func NewReports() *Reports {
	return &Reports{reports: make(map[string][]byte)}
}

func (r *Reports) Put(_ context.Context, jobID string, src io.Reader, size int64) error {
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := io.Copy(buf, src); err != nil {
		return err
	}
	r.mu.Lock()
	r.reports[jobID] = buf.Bytes()
	r.mu.Unlock()
	return nil
}

func (r *Reports) Open(_ context.Context, jobID string) (io.ReadCloser, error) {
	r.mu.RLock()
	data, ok := r.reports[jobID]
	r.mu.RUnlock()
	if !ok {
		return nil, core.ErrReportNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
