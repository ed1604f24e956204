package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

const jobColumns = `job_id, upload_id, dataset, strategy, reference, file_name, status, phase,
	processed, total, errors, inserted, current, report, message, code, dry_run, started_at, finished_at`

// History is a core.HistoryStore backed by the import_jobs table.
type History struct {
	pool *pgxpool.Pool
}

func NewHistory(pool *pgxpool.Pool) *History {
	return &History{pool: pool}
}

// Save inserts or updates the job row.
func (h *History) Save(ctx context.Context, rec core.JobRecord) error {
	var current []byte
	if rec.Current != nil {
		var err error
		if current, err = sonic.Marshal(rec.Current); err != nil {
			return fmt.Errorf("marshal position: %w", err)
		}
	}

	_, err := h.pool.Exec(ctx, `
		INSERT INTO import_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			phase = EXCLUDED.phase,
			processed = EXCLUDED.processed,
			total = EXCLUDED.total,
			errors = EXCLUDED.errors,
			inserted = EXCLUDED.inserted,
			current = EXCLUDED.current,
			report = EXCLUDED.report,
			message = EXCLUDED.message,
			code = EXCLUDED.code,
			finished_at = EXCLUDED.finished_at`,
		rec.JobID, rec.UploadID, rec.Dataset, string(rec.Strategy), rec.Reference, rec.FileName,
		string(rec.Status), string(rec.Phase), rec.Processed, rec.Total, rec.Errors, rec.Inserted,
		current, rec.Report, rec.Message, rec.Code, rec.DryRun, rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", rec.JobID, err)
	}
	return nil
}

func (h *History) Get(ctx context.Context, jobID string) (core.JobRecord, error) {
	row := h.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE job_id = $1`, jobID)
	rec, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.JobRecord{}, core.ErrJobNotFound
	}
	return rec, err
}

func (h *History) Recent(ctx context.Context, limit int) ([]core.JobRecord, error) {
	rows, err := h.pool.Query(ctx, `SELECT `+jobColumns+` FROM import_jobs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []core.JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PurgeBefore removes finished jobs that ended before the cutoff.
func (h *History) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := h.pool.Exec(ctx, `DELETE FROM import_jobs WHERE finished_at IS NOT NULL AND finished_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (core.JobRecord, error) {
	var rec core.JobRecord
	var strategy, status, phase string
	var current []byte
	err := row.Scan(
		&rec.JobID, &rec.UploadID, &rec.Dataset, &strategy, &rec.Reference, &rec.FileName,
		&status, &phase, &rec.Processed, &rec.Total, &rec.Errors, &rec.Inserted,
		&current, &rec.Report, &rec.Message, &rec.Code, &rec.DryRun, &rec.StartedAt, &rec.FinishedAt,
	)
	if err != nil {
		return core.JobRecord{}, err
	}
	rec.Strategy = core.Strategy(strategy)
	rec.Status = core.JobStatus(status)
	rec.Phase = core.JobPhase(phase)
	if len(current) > 0 {
		var pos core.Position
		if err := sonic.Unmarshal(current, &pos); err == nil {
			rec.Current = &pos
		}
	}
	return rec, nil
}
