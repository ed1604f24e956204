package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

// History is a core.HistoryStore backed by a map.
type History struct {
	mu   sync.RWMutex
	jobs map[string]core.JobRecord
}

func NewHistory() *History {
	return &History{jobs: make(map[string]core.JobRecord)}
}

func (h *History) Save(_ context.Context, rec core.JobRecord) error {
	h.mu.Lock()
	h.jobs[rec.JobID] = rec
	h.mu.Unlock()
	return nil
}

func (h *History) Get(_ context.Context, jobID string) (core.JobRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rec, ok := h.jobs[jobID]
	if !ok {
		return core.JobRecord{}, core.ErrJobNotFound
	}
	return rec, nil
}

// Recent returns up to limit records, newest start first.
func (h *History) Recent(_ context.Context, limit int) ([]core.JobRecord, error) {
	h.mu.RLock()
	out := make([]core.JobRecord, 0, len(h.jobs))
	for _, rec := range h.jobs {
		out = append(out, rec)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PurgeBefore removes finished records that ended before the cutoff.
func (h *History) PurgeBefore(_ context.Context, before time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var n int64
	for id, rec := range h.jobs {
		if rec.FinishedAt != nil && rec.FinishedAt.Before(before) {
			delete(h.jobs, id)
			n++
		}
	}
	return n, nil
}
