package core

import (
	"context"
	"io"
	"time"
)

// UploadStore persists upload session metadata. Get returns
// ErrUploadNotFound for unknown or expired ids.
type UploadStore interface {
	Save(ctx context.Context, u UploadSession) error
	Get(ctx context.Context, id string) (UploadSession, error)
	Delete(ctx context.Context, id string) error
}

// ChunkSpool holds the received bytes of each upload. Writes are
// offset-addressed so a retried chunk overwrites rather than duplicates.
type ChunkSpool interface {
	WriteAt(ctx context.Context, id string, offset int64, data []byte) error
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	Remove(ctx context.Context, id string) error
	// Purge removes spooled uploads untouched since before.
	Purge(ctx context.Context, before time.Time) (int, error)
}

// Locker hands out exclusive leases on keys. Acquire returns ErrLocked when
// another owner holds the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// HistoryStore persists job records. Get returns ErrJobNotFound.
type HistoryStore interface {
	Save(ctx context.Context, rec JobRecord) error
	Get(ctx context.Context, jobID string) (JobRecord, error)
	Recent(ctx context.Context, limit int) ([]JobRecord, error)
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

// ReportStore keeps the failed-row CSV of finished jobs. Open returns
// ErrReportNotFound.
type ReportStore interface {
	Put(ctx context.Context, jobID string, r io.Reader, size int64) error
	Open(ctx context.Context, jobID string) (io.ReadCloser, error)
}

// ReportLinker is implemented by report stores that can hand out a direct
// download link (for example a presigned object URL).
type ReportLinker interface {
	ReportLink(ctx context.Context, jobID string) (string, error)
}

// RecordSink is where accepted rows are written.
type RecordSink interface {
	Begin(ctx context.Context) (SinkTx, error)
}

// SinkTx is one import transaction. A failed Write leaves the transaction
// usable and the dataset unchanged.
type SinkTx interface {
	Write(ctx context.Context, dataset string, strategy Strategy, rec Record) error
	HasKey(ctx context.Context, dataset, key string) (bool, error)
	Clear(ctx context.Context, dataset string) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
