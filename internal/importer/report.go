package importer

import "sync"

// ErrorReport accumulates the per-row error count of a job and remembers the
// report link once the server publishes one.
//
// While the job runs the count never decreases, so a lagging poll response
// cannot make the number go backwards. The count carried by a terminal
// snapshot is authoritative and replaces whatever was seen before.
type ErrorReport struct {
	mu        sync.Mutex
	errors    int64
	final     bool
	reportURL string
}

// Observe folds one snapshot into the aggregate.
func (r *ErrorReport) Observe(s Snapshot, terminal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Errors != nil {
		switch {
		case terminal:
			r.errors = *s.Errors
			r.final = true
		case !r.final && *s.Errors > r.errors:
			r.errors = *s.Errors
		}
	}

	if link := s.ReportLink(); link != "" {
		r.reportURL = link
	}
}

// Count returns the current error count.
func (r *ErrorReport) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors
}

// ReportURL returns the report link and whether one has been published.
func (r *ErrorReport) ReportURL() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reportURL, r.reportURL != ""
}

// Download surfaces the report link for the caller to open.
// The report content is opaque here and never fetched.
func (r *ErrorReport) Download() (string, error) {
	if url, ok := r.ReportURL(); ok {
		return url, nil
	}
	return "", ErrNoReport
}

// Reset clears the aggregate for a new job.
func (r *ErrorReport) Reset() {
	r.mu.Lock()
	r.errors = 0
	r.final = false
	r.reportURL = ""
	r.mu.Unlock()
}
