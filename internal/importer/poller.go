package importer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is the status polling interval.
const DefaultPollInterval = 600 * time.Millisecond

// Ticker is the subset of *time.Ticker the poller uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} }

// Poller fetches the status of one job on a fixed interval and hands every
// snapshot to a sink. It stops by itself on a terminal snapshot, and on an
// AuthError, which is handed to the failure handler instead of retried.
//
// Only one run is ever active: starting again cancels the previous run, and
// responses belonging to a cancelled run are dropped.
type Poller struct {
	fetcher   StatusFetcher
	sink      func(jobID string, s Snapshot)
	onDone    func(jobID string, s Snapshot)
	onFail    func(jobID string, err error)
	newTicker func(time.Duration) Ticker
	logger    *slog.Logger

	mu     sync.Mutex
	gen    uint64
	jobID  string
	cancel context.CancelFunc
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithDoneHandler registers fn to run once when a run sees a terminal snapshot.
func WithDoneHandler(fn func(jobID string, s Snapshot)) PollerOption {
	return func(p *Poller) { p.onDone = fn }
}

// WithFailureHandler registers fn to run once when a run stops on an error
// that polling again cannot fix.
func WithFailureHandler(fn func(jobID string, err error)) PollerOption {
	return func(p *Poller) { p.onFail = fn }
}

// WithTicker replaces the ticker constructor.
func WithTicker(fn func(time.Duration) Ticker) PollerOption {
	return func(p *Poller) { p.newTicker = fn }
}

// WithPollLogger sets the logger used for skipped polls.
func WithPollLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// NewPoller creates a Poller. sink receives snapshots in the order the
// responses arrive.
func NewPoller(fetcher StatusFetcher, sink func(jobID string, s Snapshot), opts ...PollerOption) *Poller {
	p := &Poller{
		fetcher:   fetcher,
		sink:      sink,
		newTicker: newTimeTicker,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start polls jobID every interval. Calling Start while a run is active
// replaces it, so at most one ticker exists at a time.
func (p *Poller) Start(jobID string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.gen++
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.jobID = jobID

	go p.run(ctx, p.gen, jobID, interval)
}

// Stop ends the active run without calling the done handler.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopLocked()
	p.mu.Unlock()
}

func (p *Poller) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.jobID = ""
}

// Polling returns the job id of the active run, if any.
func (p *Poller) Polling() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobID, p.cancel != nil
}

func (p *Poller) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen && p.cancel != nil
}

// finish ends run gen if it is still the active one.
func (p *Poller) finish(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen || p.cancel == nil {
		return false
	}
	p.cancel()
	p.cancel = nil
	p.jobID = ""
	return true
}

func (p *Poller) run(ctx context.Context, gen uint64, jobID string, interval time.Duration) {
	ticker := p.newTicker(interval)
	defer ticker.Stop()

	results := make(chan Snapshot)
	failures := make(chan error)

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C():
			go func() {
				snap, err := p.fetcher.FetchStatus(ctx, jobID)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					if IsAuthError(err) {
						select {
						case failures <- err:
						case <-ctx.Done():
						}
						return
					}
					p.logger.Debug("status poll skipped", "job_id", jobID, "error", err)
					return
				}
				select {
				case results <- snap:
				case <-ctx.Done():
				}
			}()

		case err := <-failures:
			if p.finish(gen) && p.onFail != nil {
				p.onFail(jobID, err)
			}
			return

		case snap := <-results:
			if !p.current(gen) {
				return
			}
			p.sink(jobID, snap)
			if snap.Terminal() {
				if p.finish(gen) && p.onDone != nil {
					p.onDone(jobID, snap)
				}
				return
			}
		}
	}
}
