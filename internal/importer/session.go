package importer

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"
)

// SessionConfig configures a Session.
type SessionConfig struct {
	BaseURL      string
	Upload       UploadConfig
	PollInterval time.Duration
	Catalog      DatasetCatalog
	OnUpdate     func(Job)
	Logger       *slog.Logger

	// Optional overrides, mostly for tests.
	UploaderOptions []UploaderOption
	PollerOptions   []PollerOption
}

// Session ties the uploader, controller, poller and error report together
// for one file. The controller is the only writer of the job state; the
// poller feeds it snapshots.
type Session struct {
	cfg      SessionConfig
	client   *Client
	uploader *Uploader
	ctrl     *Controller
	poller   *Poller
	logger   *slog.Logger

	mu      sync.Mutex
	changed chan struct{}
	pollErr error // set when polling stopped on an AuthError
}

// NewSession creates a Session that talks to the server through client.
func NewSession(client *Client, cfg SessionConfig) *Session {
	if cfg.Upload.UploadURL == "" {
		cfg.Upload.UploadURL = client.Endpoints().Upload
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		cfg:     cfg,
		client:  client,
		logger:  logger,
		changed: make(chan struct{}),
	}
	s.uploader = NewUploader(client, cfg.UploaderOptions...)
	s.ctrl = NewController(client, WithCatalog(cfg.Catalog), WithChangeHandler(s.onChange))

	pollOpts := append([]PollerOption{
		WithPollLogger(logger),
		WithDoneHandler(func(jobID string, _ Snapshot) {
			logger.Debug("polling stopped", "job_id", jobID)
		}),
		WithFailureHandler(s.pollFailed),
	}, cfg.PollerOptions...)
	s.poller = NewPoller(client, func(jobID string, snap Snapshot) {
		s.ctrl.Apply(jobID, snap)
	}, pollOpts...)

	return s
}

func (s *Session) onChange(j Job) {
	s.mu.Lock()
	s.notifyLocked()
	s.mu.Unlock()

	if s.cfg.OnUpdate != nil {
		s.cfg.OnUpdate(j)
	}
}

func (s *Session) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// pollFailed records why polling gave up. The job keeps its last known
// state; Wait returns err.
func (s *Session) pollFailed(jobID string, err error) {
	s.logger.Error("status polling stopped", "job_id", jobID, "error", err)
	s.mu.Lock()
	s.pollErr = err
	s.notifyLocked()
	s.mu.Unlock()
}

// Controller exposes the job controller.
func (s *Session) Controller() *Controller { return s.ctrl }

// Upload sends f and remembers the upload id for the next import.
// A failed upload forgets any previous id.
func (s *Session) Upload(ctx context.Context, f File) (string, error) {
	if s.ctrl.Job().Status.Active() {
		return "", ErrJobActive
	}
	id, err := s.uploader.Upload(ctx, f, s.cfg.Upload)
	if err != nil {
		_ = s.ctrl.SetUpload("")
		return "", err
	}
	if err := s.ctrl.SetUpload(id); err != nil {
		return "", err
	}
	s.logger.Info("upload complete", "upload_id", id, "file", f.Name, "bytes", f.Size)
	return id, nil
}

// UseUpload selects an upload sent earlier.
func (s *Session) UseUpload(uploadID string) error {
	return s.ctrl.SetUpload(uploadID)
}

// Configure sets the import configuration.
func (s *Session) Configure(cfg ImportConfig) { s.ctrl.Configure(cfg) }

// Start starts an import and begins polling its status.
func (s *Session) Start(ctx context.Context) (string, error) {
	jobID, err := s.ctrl.Start(ctx)
	s.follow(jobID)
	return jobID, err
}

// Retry restarts a failed import for the same upload.
func (s *Session) Retry(ctx context.Context) (string, error) {
	jobID, err := s.ctrl.Retry(ctx)
	s.follow(jobID)
	return jobID, err
}

// Attach follows a job started elsewhere, e.g. by an earlier CLI run.
func (s *Session) Attach(jobID string) {
	s.ctrl.Attach(jobID)
	s.follow(jobID)
}

// follow starts polling jobID unless it is already being polled or the job
// is no longer running.
func (s *Session) follow(jobID string) {
	if jobID == "" {
		return
	}
	job := s.ctrl.Job()
	if job.JobID != jobID || !job.Status.Active() {
		return
	}
	if current, ok := s.poller.Polling(); ok && current == jobID {
		return
	}
	s.mu.Lock()
	s.pollErr = nil
	s.mu.Unlock()
	s.poller.Start(jobID, s.cfg.PollInterval)
}

// Cancel requests cancellation of the running job.
func (s *Session) Cancel(ctx context.Context) error {
	return s.ctrl.Cancel(ctx)
}

// Reset stops polling and returns the job to idle.
func (s *Session) Reset() {
	s.poller.Stop()
	s.mu.Lock()
	s.pollErr = nil
	s.mu.Unlock()
	s.ctrl.Reset()
}

// Job returns a copy of the job state.
func (s *Session) Job() Job { return s.ctrl.Job() }

// Wait blocks until the job leaves processing/cancelling or ctx ends.
// The returned error is the job's failure, if it failed. When the server
// rejects a status poll, Wait returns at once with that AuthError.
func (s *Session) Wait(ctx context.Context) (Job, error) {
	for {
		s.mu.Lock()
		ch := s.changed
		pollErr := s.pollErr
		s.mu.Unlock()

		job := s.ctrl.Job()
		if !job.Status.Active() {
			return job, job.Err
		}
		if pollErr != nil {
			return job, pollErr
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return job, ctx.Err()
		}
	}
}

// ReportURL returns the error report link resolved against the server base
// URL, or ErrNoReport.
func (s *Session) ReportURL() (string, error) {
	link, err := s.ctrl.Report().Download()
	if err != nil {
		return "", err
	}
	return resolveURL(s.cfg.BaseURL, link), nil
}

func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// Close stops polling.
func (s *Session) Close() {
	s.poller.Stop()
}
