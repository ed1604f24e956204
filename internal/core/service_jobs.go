package core

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// StartImport validates the configuration, claims the upload and starts
// processing in the background. The returned snapshot carries the job id.
//
// Only one job may run per upload. The claim is a lease from the Locker so
// it also holds across server instances sharing a lock backend.
func (s *Service) StartImport(ctx context.Context, uploadID string, cfg ImportConfig) (JobSnapshot, error) {
	ds, err := ValidateConfig(cfg)
	if err != nil {
		return JobSnapshot{}, err
	}
	cfg.Strategy = cfg.Strategy.OrDefault()
	if cfg.Reference != "" {
		if _, ok := Get(cfg.Reference); !ok {
			return JobSnapshot{}, &ConfigError{Field: "reference", Reason: fmt.Sprintf("%q is unknown", cfg.Reference)}
		}
	}

	upload, err := s.stores.Uploads.Get(ctx, uploadID)
	if err != nil {
		return JobSnapshot{}, err
	}
	if !upload.Complete() {
		return JobSnapshot{}, fmt.Errorf("%w: %d of %d bytes", ErrUploadIncomplete, upload.Received, upload.Size)
	}

	s.mu.RLock()
	_, running := s.byUpload[uploadID]
	s.mu.RUnlock()
	if running {
		return JobSnapshot{}, ErrJobActive
	}

	lease, err := s.stores.Locker.Acquire(ctx, "import:upload:"+uploadID, s.cfg.LockTTL)
	if errors.Is(err, ErrLocked) {
		return JobSnapshot{}, ErrJobActive
	}
	if err != nil {
		return JobSnapshot{}, fmt.Errorf("lock upload: %w", err)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		_ = lease.Release(context.WithoutCancel(ctx))
		return JobSnapshot{}, err
	}

	unlock := s.lockUpload(uploadID)
	upload.Sealed = true
	err = s.stores.Uploads.Save(ctx, upload)
	unlock()
	if err != nil {
		s.limiter.Release()
		_ = lease.Release(context.WithoutCancel(ctx))
		return JobSnapshot{}, fmt.Errorf("seal upload: %w", err)
	}

	jobID := s.newJobID()
	jobCtx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	job := &activeJob{
		id:       jobID,
		uploadID: uploadID,
		cfg:      cfg,
		fileName: upload.FileName,
		cancel:   cancel,
		done:     make(chan struct{}),
		snap: JobSnapshot{
			JobID:     jobID,
			UploadID:  uploadID,
			Dataset:   ds.Info.Key,
			Status:    JobProcessing,
			Phase:     PhaseStarting,
			DryRun:    cfg.DryRun,
			StartedAt: s.now().UTC(),
		},
	}

	s.mu.Lock()
	s.jobs[jobID] = job
	s.byUpload[uploadID] = jobID
	s.mu.Unlock()

	s.saveHistory(ctx, job)

	s.logger.Info("import started",
		"job_id", jobID,
		"upload_id", uploadID,
		"dataset", ds.Info.Key,
		"strategy", cfg.Strategy,
		"dry_run", cfg.DryRun,
		"ip", GetIPAddressFromContext(ctx),
	)

	go func() {
		defer s.limiter.Release()
		defer cancel()
		s.runJob(jobCtx, job, ds, lease)
	}()

	return job.snapshot(), nil
}

// CancelImport requests cooperative cancellation. The job moves to
// cancelling at once; it becomes cancelled when processing notices.
func (s *Service) CancelImport(ctx context.Context, jobID string) (JobSnapshot, error) {
	job, ok := s.activeJob(jobID)
	if !ok {
		snap, err := s.Status(ctx, jobID)
		if err != nil {
			return JobSnapshot{}, err
		}
		return snap, ErrJobFinished
	}

	if !job.requestCancel() {
		snap := job.snapshot()
		if snap.Status.Terminal() {
			return snap, ErrJobFinished
		}
		return snap, nil // already cancelling
	}

	s.logger.Info("import cancel requested", "job_id", jobID, "ip", GetIPAddressFromContext(ctx))
	return job.snapshot(), nil
}

// Status returns the current snapshot of a job. Lookup order: in-process
// jobs, the recently finished cache, then the history store.
func (s *Service) Status(ctx context.Context, jobID string) (JobSnapshot, error) {
	if job, ok := s.activeJob(jobID); ok {
		return job.snapshot(), nil
	}
	if snap := s.finished.Get(jobID); snap.JobID != "" {
		return snap, nil
	}
	rec, err := s.stores.History.Get(ctx, jobID)
	if err != nil {
		return JobSnapshot{}, err
	}
	return rec.JobSnapshot.withProgress(), nil
}

// Subscribe returns a channel of snapshots for a job in this process. The
// channel receives the current snapshot first and is closed when the job
// ends. For jobs not running here it returns ErrJobFinished and callers
// should fall back to Status.
func (s *Service) Subscribe(jobID string) (<-chan JobSnapshot, func(), error) {
	job, ok := s.activeJob(jobID)
	if !ok {
		return nil, nil, ErrJobFinished
	}
	ch, unsubscribe := job.subscribe()
	return ch, unsubscribe, nil
}

// Recent returns the latest job records, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.stores.History.Recent(ctx, limit)
}

// OpenReport returns the failed-row CSV of a job. When the report store can
// hand out direct links, link is set and rc is nil.
func (s *Service) OpenReport(ctx context.Context, jobID string) (rc io.ReadCloser, link string, err error) {
	snap, err := s.Status(ctx, jobID)
	if err != nil {
		return nil, "", err
	}
	if snap.Report == "" {
		return nil, "", ErrReportNotFound
	}
	if linker, ok := s.stores.Reports.(ReportLinker); ok {
		link, err = linker.ReportLink(ctx, jobID)
		return nil, link, err
	}
	rc, err = s.stores.Reports.Open(ctx, jobID)
	return rc, "", err
}

// saveHistory persists the job's current state. Failures are logged only;
// the in-process snapshot stays authoritative while the job runs.
func (s *Service) saveHistory(ctx context.Context, job *activeJob) {
	rec := JobRecord{
		JobSnapshot: job.snapshot(),
		Strategy:    job.cfg.Strategy,
		Reference:   job.cfg.Reference,
		FileName:    job.fileName,
	}
	if err := s.stores.History.Save(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("save job history", "job_id", job.id, "error", err)
	}
}
