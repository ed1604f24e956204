package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ServiceConfig holds the tunables of the import service. Zero values select
// the defaults below.
type ServiceConfig struct {
	MaxFileSize   int64         // whole upload, default 100MB
	MaxChunkSize  int64         // single chunk body, default 8MB
	JobTimeout    time.Duration // one import, default 10m
	LockTTL       time.Duration // per-upload lease, extended while running, default 1m
	ProgressEvery int           // publish every N rows, default 25
	FinishedTTL   time.Duration // recently finished snapshot cache, default 1h
	RetainDelay   time.Duration // active-job entry kept after finishing, default 5m
	ReportPath    string        // report URL template, default /api/imports/%s/report
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 << 20
	}
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = 8 << 20
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = time.Minute
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = 25
	}
	if c.FinishedTTL <= 0 {
		c.FinishedTTL = time.Hour
	}
	if c.RetainDelay <= 0 {
		c.RetainDelay = 5 * time.Minute
	}
	if c.ReportPath == "" {
		c.ReportPath = "/api/imports/%s/report"
	}
	return c
}

// Stores groups the storage backends the service depends on.
type Stores struct {
	Uploads UploadStore
	Spool   ChunkSpool
	History HistoryStore
	Reports ReportStore
	Sink    RecordSink
	Locker  Locker
}

func (st Stores) validate() error {
	var missing []string
	if st.Uploads == nil {
		missing = append(missing, "uploads")
	}
	if st.Spool == nil {
		missing = append(missing, "spool")
	}
	if st.History == nil {
		missing = append(missing, "history")
	}
	if st.Reports == nil {
		missing = append(missing, "reports")
	}
	if st.Sink == nil {
		missing = append(missing, "sink")
	}
	if st.Locker == nil {
		missing = append(missing, "locker")
	}
	if len(missing) > 0 {
		return errors.New("core: missing stores: " + strings.Join(missing, ", "))
	}
	return nil
}

// Service provides the upload and import operations.
type Service struct {
	stores  Stores
	cfg     ServiceConfig
	limiter *JobLimiter
	logger  *slog.Logger

	newUploadID func() string
	newJobID    func() string
	now         func() time.Time

	finished *ttlworker.Cache[string, JobSnapshot]

	uploadLocks keyedMutex

	mu       sync.RWMutex
	jobs     map[string]*activeJob
	byUpload map[string]string // upload id -> running job id
}

// Option configures a Service.
type Option func(*Service)

// WithLimiter replaces the default job limiter.
func WithLimiter(l *JobLimiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithIDGenerators overrides upload and job id generation.
func WithIDGenerators(upload, job func() string) Option {
	return func(s *Service) {
		if upload != nil {
			s.newUploadID = upload
		}
		if job != nil {
			s.newJobID = job
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new Service instance.
func NewService(stores Stores, cfg ServiceConfig, opts ...Option) (*Service, error) {
	if err := stores.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	s := &Service{
		stores:      stores,
		cfg:         cfg,
		logger:      slog.Default(),
		newUploadID: func() string { return ulid.Make().String() },
		newJobID:    uuid.NewString,
		now:         time.Now,
		finished:    ttlworker.NewCache[string, JobSnapshot](cfg.FinishedTTL),
		jobs:        make(map[string]*activeJob),
		byUpload:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = NewJobLimiter(0, 0)
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Service) Config() ServiceConfig { return s.cfg }

// Limiter exposes the job limiter for health reporting.
func (s *Service) Limiter() *JobLimiter { return s.limiter }

// Datasets returns information about all registered datasets.
func (s *Service) Datasets() []DatasetInfo {
	all := All()
	infos := make([]DatasetInfo, len(all))
	for i, ds := range all {
		infos[i] = ds.Info
	}
	return infos
}

// Shutdown waits for running imports. When ctx ends first the remaining
// imports are cancelled and Shutdown waits for them to record their final
// state.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.limiter.WaitForDrain(ctx)
	if err == nil {
		return nil
	}

	s.mu.RLock()
	running := make([]*activeJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		running = append(running, job)
	}
	s.mu.RUnlock()

	for _, job := range running {
		job.requestCancel()
	}
	for _, job := range running {
		select {
		case <-job.done:
		case <-time.After(5 * time.Second):
			s.logger.Warn("import did not stop after cancel", "job_id", job.id)
		}
	}
	return err
}

// activeJob is the in-process state of a running or recently finished job.
type activeJob struct {
	id       string
	uploadID string
	cfg      ImportConfig
	fileName string
	cancel   context.CancelFunc
	done     chan struct{}

	mu        sync.Mutex
	snap      JobSnapshot
	listeners []chan JobSnapshot
}

func (j *activeJob) snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap.withProgress()
}

// update applies fn to the snapshot and publishes the result.
func (j *activeJob) update(fn func(*JobSnapshot)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.snap)
	j.notifyLocked()
}

// notifyLocked sends the snapshot to every listener, skipping slow ones.
func (j *activeJob) notifyLocked() {
	snap := j.snap.withProgress()
	for _, ch := range j.listeners {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (j *activeJob) subscribe() (<-chan JobSnapshot, func()) {
	ch := make(chan JobSnapshot, 16)

	j.mu.Lock()
	defer j.mu.Unlock()

	ch <- j.snap.withProgress()
	if j.snap.Status.Terminal() {
		close(ch)
		return ch, func() {}
	}
	j.listeners = append(j.listeners, ch)

	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		for i, l := range j.listeners {
			if l == ch {
				j.listeners = append(j.listeners[:i], j.listeners[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

// closeListeners closes all listener channels.
func (j *activeJob) closeListeners() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, ch := range j.listeners {
		close(ch)
	}
	j.listeners = nil
}

// requestCancel moves a processing job to cancelling and stops its context.
// It reports false when the job had already left processing.
func (j *activeJob) requestCancel() bool {
	j.mu.Lock()
	if j.snap.Status != JobProcessing {
		j.mu.Unlock()
		return false
	}
	j.snap.Status = JobCancelling
	j.notifyLocked()
	j.mu.Unlock()

	j.cancel()
	return true
}

// cleanup removes the job from in-process tracking after a delay.
func (s *Service) cleanup(jobID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.jobs, jobID)
		s.mu.Unlock()
	})
}

func (s *Service) activeJob(jobID string) (*activeJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	return job, ok
}
