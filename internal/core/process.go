package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
)

// MaxHeaderSearchRows is the maximum number of records scanned for the header.
var MaxHeaderSearchRows = 20

// ContextCheckInterval is how often (in rows) processing checks for
// cancellation.
var ContextCheckInterval = 100

// importResult is the outcome of processing one file.
type importResult struct {
	processed int64
	inserted  int64
	failed    int64
	report    []byte // failed-row CSV, nil when every row was accepted
}

// runJob processes a job and records its final state. It owns the lease.
func (s *Service) runJob(ctx context.Context, job *activeJob, ds Dataset, lease Lease) {
	logger := s.logger.With("job_id", job.id, "upload_id", job.uploadID, "dataset", ds.Info.Key)
	start := s.now()
	stopLease := s.keepLease(ctx, lease, logger)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in import", "panic", r, "stack", string(debug.Stack()))
			s.conclude(job, importResult{}, fmt.Errorf("internal error: %v", r))
		}
		stopLease()
		s.finish(job, lease, logger, start)
	}()

	res, err := s.importFile(ctx, job, ds)
	if err == nil && len(res.report) > 0 {
		job.update(func(snap *JobSnapshot) { snap.Phase = PhaseReporting })
		if perr := s.stores.Reports.Put(context.WithoutCancel(ctx), job.id, bytes.NewReader(res.report), int64(len(res.report))); perr != nil {
			logger.Error("store error report", "error", perr)
			res.report = nil
		}
	}
	s.conclude(job, res, err)
}

// conclude moves the job to its terminal status.
func (s *Service) conclude(job *activeJob, res importResult, err error) {
	now := s.now().UTC()
	job.update(func(snap *JobSnapshot) {
		if snap.Status.Terminal() {
			return
		}
		snap.Processed = res.processed
		snap.Inserted = res.inserted
		snap.Errors = res.failed
		snap.FinishedAt = &now
		snap.Phase = PhaseDone

		switch {
		case err == nil:
			snap.Status = JobFinished
			if len(res.report) > 0 {
				snap.Report = fmt.Sprintf(s.cfg.ReportPath, job.id)
			}
		case errors.Is(err, context.Canceled):
			snap.Status = JobCancelled
		default:
			msg := MapError(err)
			snap.Status = JobError
			snap.Message = msg.Message
			snap.Code = msg.Code
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("import failed", "job_id", job.id, "error", err)
	}
}

// finish publishes the final snapshot and releases everything the job held.
func (s *Service) finish(job *activeJob, lease Lease, logger *slog.Logger, start time.Time) {
	snap := job.snapshot()
	s.finished.Set(job.id, snap)
	s.saveHistory(context.Background(), job)

	job.closeListeners()
	close(job.done)

	s.mu.Lock()
	if s.byUpload[job.uploadID] == job.id {
		delete(s.byUpload, job.uploadID)
	}
	s.mu.Unlock()

	if err := lease.Release(context.Background()); err != nil {
		logger.Warn("release upload lock", "error", err)
	}
	s.cleanup(job.id, s.cfg.RetainDelay)

	logger.Info("import finished",
		"status", snap.Status,
		"processed", snap.Processed,
		"inserted", snap.Inserted,
		"errors", snap.Errors,
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)
}

// keepLease extends the lease every half TTL until the returned func is
// called.
func (s *Service) keepLease(ctx context.Context, lease Lease, logger *slog.Logger) func() {
	stop := make(chan struct{})
	ticker := time.NewTicker(s.cfg.LockTTL / 2)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lease.Extend(ctx, s.cfg.LockTTL); err != nil {
					logger.Warn("extend upload lock", "error", err)
				}
			}
		}
	}()
	return func() { close(stop) }
}

// importFile makes two passes over the spooled upload: the first locates
// the header and counts data rows, the second validates and writes them.
func (s *Service) importFile(ctx context.Context, job *activeJob, ds Dataset) (importResult, error) {
	job.update(func(snap *JobSnapshot) { snap.Phase = PhaseCounting })

	headerAt, header, total, err := s.scanUpload(ctx, job.uploadID, ds)
	if err != nil {
		return importResult{}, err
	}
	job.update(func(snap *JobSnapshot) {
		snap.Total = &total
		snap.Phase = PhaseValidating
	})

	rc, err := s.stores.Spool.Open(ctx, job.uploadID)
	if err != nil {
		return importResult{}, fmt.Errorf("open upload: %w", err)
	}
	defer rc.Close()

	rows := NewRowReader(rc)
	for i := 0; i <= headerAt; i++ {
		if _, err := rows.Read(); err != nil {
			return importResult{}, fmt.Errorf("skip to header: %w", err)
		}
	}

	tx, err := s.stores.Sink.Begin(ctx)
	if err != nil {
		return importResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if job.cfg.Strategy == StrategyReplace {
		if _, err := tx.Clear(ctx, ds.Info.Key); err != nil {
			return importResult{}, fmt.Errorf("clear %s: %w", ds.Info.Key, err)
		}
	}

	p := &rowProcessor{
		ds:        ds,
		cfg:       job.cfg,
		header:    header,
		headerIdx: MakeHeaderIndex(header),
		tx:        tx,
	}
	p.validator = NewRowValidator(ds.FieldSpecs, p.headerIdx)

	job.update(func(snap *JobSnapshot) { snap.Phase = PhaseWriting })

	for i := 0; ; i++ {
		if i%ContextCheckInterval == 0 && ctx.Err() != nil {
			return p.result(), ctx.Err()
		}

		row, err := rows.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return p.result(), err
		}
		line, _ := rows.FieldPos(0)

		if isEmptyRow(row) {
			continue
		}
		if err := p.handle(ctx, line, row); err != nil {
			if ctx.Err() != nil {
				return p.result(), ctx.Err()
			}
			return p.result(), err
		}

		if p.processed%int64(s.cfg.ProgressEvery) == 0 {
			p.publish(job)
		}
	}

	if job.cfg.DryRun {
		if err := tx.Rollback(ctx); err != nil {
			return p.result(), fmt.Errorf("rollback dry run: %w", err)
		}
	} else if err := tx.Commit(ctx); err != nil {
		return p.result(), fmt.Errorf("commit: %w", err)
	}

	p.publish(job)
	return p.result(), nil
}

// scanUpload finds the header record and counts the non-empty data rows
// below it.
func (s *Service) scanUpload(ctx context.Context, uploadID string, ds Dataset) (headerAt int, header []string, total int64, err error) {
	rc, err := s.stores.Spool.Open(ctx, uploadID)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("open upload: %w", err)
	}
	defer rc.Close()

	rows := NewRowReader(rc)
	headerAt = -1
	for i := 0; ; i++ {
		if i%ContextCheckInterval == 0 && ctx.Err() != nil {
			return 0, nil, 0, ctx.Err()
		}
		row, err := rows.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, nil, 0, err
		}

		if headerAt < 0 {
			if i >= MaxHeaderSearchRows {
				break
			}
			if _, err := ValidateHeaders(row, ds.FieldSpecs); err == nil {
				headerAt = i
				header = append([]string(nil), row...)
			}
			continue
		}
		if !isEmptyRow(row) {
			total++
		}
	}

	if headerAt < 0 {
		expected := missingColumns(nil, ds.FieldSpecs)
		return 0, nil, 0, fmt.Errorf("header not found (expected: %s)", strings.Join(expected, ", "))
	}
	if total == 0 {
		return 0, nil, 0, errors.New("no data rows after header")
	}
	return headerAt, header, total, nil
}

// rowProcessor carries the per-file state of the second pass.
type rowProcessor struct {
	ds        Dataset
	cfg       ImportConfig
	header    []string
	headerIdx HeaderIndex
	validator *RowValidator
	tx        SinkTx

	processed int64
	inserted  int64
	failed    int64
	current   Position

	report    bytes.Buffer
	reportCSV *csv.Writer
}

// handle validates and writes one row. Row-level problems are recorded as
// failed rows; only errors that make continuing pointless are returned.
func (p *rowProcessor) handle(ctx context.Context, line int, row []string) error {
	p.processed++
	p.current = Position{
		Line: line,
		SKU:  Cell(row, p.headerIdx, p.ds.Info.KeyColumn),
		Name: Cell(row, p.headerIdx, p.ds.DisplayField),
	}

	if err := p.validator.ValidateRow(row); err != nil {
		p.fail(line, err, row)
		return nil
	}

	rec, err := p.ds.Build(row, p.headerIdx)
	if err != nil {
		p.fail(line, err, row)
		return nil
	}

	if p.ds.ReferenceField != "" {
		if ref := p.referenceKey(row); ref != "" {
			ok, err := p.tx.HasKey(ctx, p.cfg.Reference, ref)
			if err != nil {
				return fmt.Errorf("check reference: %w", err)
			}
			if !ok {
				p.fail(line, fmt.Errorf("%s: unknown reference %q in %s", p.ds.ReferenceField, ref, p.cfg.Reference), row)
				return nil
			}
		}
	}

	if err := p.tx.Write(ctx, p.ds.Info.Key, p.cfg.Strategy, rec); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.fail(line, fmt.Errorf("write: %w", err), row)
		return nil
	}
	p.inserted++
	return nil
}

// referenceKey returns the reference cell normalized the way the referenced
// dataset stores its keys.
func (p *rowProcessor) referenceKey(row []string) string {
	ref := Cell(row, p.headerIdx, p.ds.ReferenceField)
	for _, spec := range p.ds.FieldSpecs {
		if strings.EqualFold(spec.Name, p.ds.ReferenceField) && spec.Normalizer != nil && ref != "" {
			return spec.Normalizer(ref)
		}
	}
	return ref
}

// fail appends a row to the error report: _line,_error,<original cells>.
func (p *rowProcessor) fail(line int, reason error, row []string) {
	p.failed++
	if p.reportCSV == nil {
		p.reportCSV = csv.NewWriter(&p.report)
		_ = p.reportCSV.Write(append([]string{"_line", "_error"}, p.header...))
	}
	rec := make([]string, 0, len(row)+2)
	rec = append(rec, fmt.Sprint(line), reason.Error())
	rec = append(rec, row...)
	_ = p.reportCSV.Write(rec)
}

func (p *rowProcessor) publish(job *activeJob) {
	pos := p.current
	job.update(func(snap *JobSnapshot) {
		snap.Processed = p.processed
		snap.Inserted = p.inserted
		snap.Errors = p.failed
		snap.Current = &pos
	})
}

func (p *rowProcessor) result() importResult {
	res := importResult{processed: p.processed, inserted: p.inserted, failed: p.failed}
	if p.reportCSV != nil {
		p.reportCSV.Flush()
		res.report = p.report.Bytes()
	}
	return res
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
