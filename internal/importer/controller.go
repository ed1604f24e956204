package importer

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Supported merge strategies. An empty strategy means the server default.
var Strategies = []string{"insert", "upsert", "replace"}

// DatasetCatalog tells the controller which datasets need a reference
// dataset before a job may start.
type DatasetCatalog interface {
	ReferenceRequired(dataset string) (required, known bool)
}

// StaticCatalog maps dataset keys to whether they require a reference.
type StaticCatalog map[string]bool

func (c StaticCatalog) ReferenceRequired(dataset string) (bool, bool) {
	req, ok := c[dataset]
	return req, ok
}

// CatalogFrom builds a catalog from the server's dataset listing.
func CatalogFrom(infos []DatasetInfo) StaticCatalog {
	c := make(StaticCatalog, len(infos))
	for _, info := range infos {
		c[info.Key] = info.ReferenceRequired
	}
	return c
}

// Controller owns the import job state machine:
//
//	idle --start--> processing
//	processing --done--> finished
//	processing --cancel--> cancelling --confirmed--> cancelled
//	processing --failure--> error --retry--> processing
//	finished, cancelled, error --reset--> idle
//
// All mutations go through the controller's lock; callers only ever see
// copies returned by Job.
type Controller struct {
	backend  Backend
	catalog  DatasetCatalog
	report   ErrorReport
	onChange func(Job)

	mu            sync.Mutex
	job           Job
	snap          Snapshot
	cfg           ImportConfig
	gen           uint64 // bumped by every start and reset
	pendingCancel bool   // cancel requested before the job id arrived
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithCatalog sets the catalog used to validate reference requirements.
func WithCatalog(c DatasetCatalog) ControllerOption {
	return func(ctl *Controller) { ctl.catalog = c }
}

// WithChangeHandler registers fn to receive a copy of the job after every
// state change. fn is called without the controller lock held.
func WithChangeHandler(fn func(Job)) ControllerOption {
	return func(ctl *Controller) { ctl.onChange = fn }
}

// NewController creates a Controller in the idle state.
func NewController(backend Backend, opts ...ControllerOption) *Controller {
	c := &Controller{
		backend: backend,
		job:     Job{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Job returns a copy of the current job state.
func (c *Controller) Job() Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Job {
	j := c.job
	j.Errors = c.report.Count()
	j.ReportURL, _ = c.report.ReportURL()
	if j.Total != nil && j.Processed > *j.Total {
		j.Processed = *j.Total
	}
	if j.Current != nil {
		cur := *j.Current
		j.Current = &cur
	}
	return j
}

// Report returns the error aggregator fed by this controller.
func (c *Controller) Report() *ErrorReport { return &c.report }

func (c *Controller) notify() {
	if c.onChange != nil {
		c.onChange(c.Job())
	}
}

// SetUpload associates a completed upload with the session. An empty id
// forgets the upload. It fails while a job is running.
func (c *Controller) SetUpload(uploadID string) error {
	c.mu.Lock()
	if c.job.Status.Active() {
		c.mu.Unlock()
		return ErrJobActive
	}
	c.job.UploadID = uploadID
	c.mu.Unlock()
	c.notify()
	return nil
}

// Configure stores the configuration used by the next start.
func (c *Controller) Configure(cfg ImportConfig) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// Config returns the stored configuration.
func (c *Controller) Config() ImportConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *Controller) validateLocked() error {
	cfg := c.cfg
	if strings.TrimSpace(cfg.Dataset) == "" {
		return &ConfigurationError{Field: "dataset", Reason: "is required"}
	}
	if cfg.Strategy != "" && !slices.Contains(Strategies, cfg.Strategy) {
		return &ConfigurationError{Field: "strategy", Reason: "must be one of " + strings.Join(Strategies, ", ")}
	}
	if c.catalog != nil {
		required, known := c.catalog.ReferenceRequired(cfg.Dataset)
		if !known {
			return &ConfigurationError{Field: "dataset", Reason: "is not a known dataset"}
		}
		if required && strings.TrimSpace(cfg.Reference) == "" {
			return &ConfigurationError{Field: "reference", Reason: "is required for " + cfg.Dataset}
		}
	}
	return nil
}

// Start begins an import of the current upload. It validates the
// configuration locally and sends nothing when it is incomplete. While a job
// is processing or cancelling Start is a no-op returning that job's id.
func (c *Controller) Start(ctx context.Context) (string, error) {
	return c.start(ctx, false)
}

// Retry starts a new job for the same upload after a failure. It is a no-op
// outside the error state and returns ErrNoUpload when the upload is gone.
func (c *Controller) Retry(ctx context.Context) (string, error) {
	return c.start(ctx, true)
}

func (c *Controller) start(ctx context.Context, retry bool) (string, error) {
	c.mu.Lock()
	if retry && c.job.Status != StatusError {
		id := c.job.JobID
		c.mu.Unlock()
		return id, nil
	}
	if c.job.Status.Active() {
		id := c.job.JobID
		c.mu.Unlock()
		return id, nil
	}
	if c.job.UploadID == "" {
		c.mu.Unlock()
		return "", ErrNoUpload
	}
	if err := c.validateLocked(); err != nil {
		c.mu.Unlock()
		return "", err
	}

	c.resetLocked()
	c.job.Status = StatusProcessing
	gen := c.gen
	uploadID, cfg := c.job.UploadID, c.cfg
	c.mu.Unlock()
	c.notify()

	res, err := c.backend.StartImport(ctx, uploadID, cfg)

	c.mu.Lock()
	if gen != c.gen {
		// Reset while the request was in flight.
		c.mu.Unlock()
		return res.JobID, err
	}
	if err != nil {
		c.job.Status = StatusError
		c.job.Err = err
		c.mu.Unlock()
		c.notify()
		return "", err
	}

	c.job.JobID = res.JobID
	if res.Snapshot != nil {
		c.applyLocked(*res.Snapshot)
	}
	sendCancel := c.pendingCancel && c.job.Status == StatusCancelling
	c.pendingCancel = false
	jobID := c.job.JobID
	c.mu.Unlock()
	c.notify()

	if sendCancel {
		if err := c.backend.CancelImport(ctx, jobID); err != nil {
			return jobID, err
		}
	}
	return jobID, nil
}

// Cancel asks the server to stop the running job. The state moves to
// cancelling at once; cancelled only arrives with a later snapshot. Cancel
// is a no-op unless the job is processing.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.job.Status != StatusProcessing {
		c.mu.Unlock()
		return nil
	}
	c.job.Status = StatusCancelling
	jobID := c.job.JobID
	if jobID == "" {
		c.pendingCancel = true
	}
	c.mu.Unlock()
	c.notify()

	if jobID == "" {
		return nil
	}
	return c.backend.CancelImport(ctx, jobID)
}

// Attach follows a job that was started elsewhere. The job is assumed to be
// processing until a snapshot says otherwise.
func (c *Controller) Attach(jobID string) {
	c.mu.Lock()
	c.resetLocked()
	c.job.JobID = jobID
	c.job.Status = StatusProcessing
	c.mu.Unlock()
	c.notify()
}

// Reset returns the controller to idle, keeping the upload and configuration.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) resetLocked() {
	c.gen++
	c.job = Job{Status: StatusIdle, UploadID: c.job.UploadID}
	c.snap = Snapshot{}
	c.pendingCancel = false
	c.report.Reset()
}

// Apply folds a status snapshot for jobID into the job. Snapshots for
// another job, or arriving when no job is running, are ignored. It reports
// whether the snapshot was applied.
func (c *Controller) Apply(jobID string, s Snapshot) bool {
	c.mu.Lock()
	if jobID == "" || jobID != c.job.JobID || !c.job.Status.Active() {
		c.mu.Unlock()
		return false
	}
	if s.JobID != nil && *s.JobID != "" && *s.JobID != jobID {
		c.mu.Unlock()
		return false
	}
	c.applyLocked(s)
	c.mu.Unlock()
	c.notify()
	return true
}

func (c *Controller) applyLocked(s Snapshot) {
	c.snap = c.snap.Merge(s)

	if s.Processed != nil && *s.Processed >= 0 {
		c.job.Processed = *s.Processed
	}
	if s.Total != nil && *s.Total >= 0 {
		total := *s.Total
		c.job.Total = &total
	}
	if s.Current != nil {
		c.job.Current = s.Current.position()
	}
	if s.Progress != nil {
		p := *s.Progress
		c.job.Progress = &p
	}

	terminal := false
	if st, ok := s.State(); ok {
		switch {
		case st.Terminal():
			c.job.Status = st
			terminal = true
		case st == StatusCancelling:
			c.job.Status = StatusCancelling
		}
		// processing and idle never move the job: a lagging poll must not
		// undo a cancel request.
	}
	if !terminal && s.Progress != nil && *s.Progress >= 100 {
		c.job.Status = StatusFinished
		terminal = true
	}

	if c.job.Status == StatusError {
		c.job.Err = &JobError{JobID: c.job.JobID, Message: c.snap.ErrorMessage()}
	}

	c.report.Observe(s, terminal)
}
