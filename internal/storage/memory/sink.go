package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

var errTxDone = errors.New("memory: transaction already finished")

// Sink is a core.RecordSink keeping each dataset as a map keyed by record
// key. A transaction works on copies of the datasets it touches and swaps
// them in on commit.
type Sink struct {
	mu       sync.RWMutex
	datasets map[string]map[string]core.Record
}

func NewSink() *Sink {
	return &Sink{datasets: make(map[string]map[string]core.Record)}
}

// Seed stores records directly, outside any transaction.
func (s *Sink) Seed(dataset string, recs ...core.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.datasets[dataset]
	if !ok {
		m = make(map[string]core.Record)
		s.datasets[dataset] = m
	}
	for _, rec := range recs {
		m[rec.Key] = rec
	}
}

// Records returns the committed records of a dataset sorted by key.
func (s *Sink) Records(dataset string) []core.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Record, 0, len(s.datasets[dataset]))
	for _, rec := range s.datasets[dataset] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *Sink) Begin(_ context.Context) (core.SinkTx, error) {
	return &sinkTx{sink: s, staged: make(map[string]map[string]core.Record)}, nil
}

type sinkTx struct {
	sink   *Sink
	staged map[string]map[string]core.Record
	done   bool
}

// table returns the staged copy of a dataset, copying it on first use.
func (tx *sinkTx) table(dataset string) map[string]core.Record {
	if m, ok := tx.staged[dataset]; ok {
		return m
	}
	tx.sink.mu.RLock()
	m := maps.Clone(tx.sink.datasets[dataset])
	tx.sink.mu.RUnlock()
	if m == nil {
		m = make(map[string]core.Record)
	}
	tx.staged[dataset] = m
	return m
}

func (tx *sinkTx) Write(_ context.Context, dataset string, strategy core.Strategy, rec core.Record) error {
	if tx.done {
		return errTxDone
	}
	m := tx.table(dataset)
	if _, exists := m[rec.Key]; exists && strategy != core.StrategyUpsert {
		return fmt.Errorf("%w: %s", core.ErrDuplicateKey, rec.Key)
	}
	m[rec.Key] = rec
	return nil
}

func (tx *sinkTx) HasKey(_ context.Context, dataset, key string) (bool, error) {
	if tx.done {
		return false, errTxDone
	}
	_, ok := tx.table(dataset)[key]
	return ok, nil
}

func (tx *sinkTx) Clear(_ context.Context, dataset string) (int64, error) {
	if tx.done {
		return 0, errTxDone
	}
	n := int64(len(tx.table(dataset)))
	tx.staged[dataset] = make(map[string]core.Record)
	return n, nil
}

func (tx *sinkTx) Commit(_ context.Context) error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	tx.sink.mu.Lock()
	for name, m := range tx.staged {
		tx.sink.datasets[name] = m
	}
	tx.sink.mu.Unlock()
	return nil
}

// Rollback discards staged changes. It is a no-op after Commit.
func (tx *sinkTx) Rollback(_ context.Context) error {
	tx.done = true
	tx.staged = nil
	return nil
}
