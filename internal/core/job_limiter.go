package core

// job_limiter.go bounds the number of imports processed at once. A start
// request waits up to maxWait for a free slot and then fails with
// ErrTooManyImports; shutdown waits for running imports with WaitForDrain.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyImports is returned when every slot stays occupied for maxWait.
var ErrTooManyImports = errors.New("too many imports running, please try again later")

const (
	DefaultMaxConcurrentImports = 4
	DefaultMaxWaitTime          = 10 * time.Second
)

// JobLimiter is a counting semaphore for import jobs.
type JobLimiter struct {
	sem     chan struct{}
	maxWait time.Duration

	mu     sync.Mutex
	active int
	idle   chan struct{} // closed when active drops to zero
}

// NewJobLimiter creates a limiter that allows at most maxConcurrent jobs.
// Non-positive arguments select the defaults.
func NewJobLimiter(maxConcurrent int, maxWait time.Duration) *JobLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &JobLimiter{
		sem:     make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a slot, waiting at most maxWait. The caller must Release
// the slot exactly once.
func (l *JobLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		l.acquired()
		return nil
	case <-timer.C:
		return ErrTooManyImports
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot without blocking.
func (l *JobLimiter) TryAcquire() bool {
	select {
	case l.sem <- struct{}{}:
		l.acquired()
		return true
	default:
		return false
	}
}

func (l *JobLimiter) acquired() {
	l.mu.Lock()
	if l.active == 0 {
		l.idle = make(chan struct{})
	}
	l.active++
	l.mu.Unlock()
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *JobLimiter) Release() {
	l.mu.Lock()
	l.active--
	if l.active == 0 {
		close(l.idle)
	}
	l.mu.Unlock()
	<-l.sem
}

// ActiveCount returns the number of running jobs.
func (l *JobLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *JobLimiter) MaxConcurrent() int { return cap(l.sem) }

func (l *JobLimiter) Available() int { return cap(l.sem) - len(l.sem) }

// WaitForDrain blocks until no job holds a slot or ctx is done.
func (l *JobLimiter) WaitForDrain(ctx context.Context) error {
	l.mu.Lock()
	if l.active == 0 {
		l.mu.Unlock()
		return nil
	}
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JobLimiterStatus is the limiter state exposed on the health endpoint.
type JobLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

func (l *JobLimiter) Status() JobLimiterStatus {
	return JobLimiterStatus{
		Active:        l.ActiveCount(),
		Available:     l.Available(),
		MaxConcurrent: l.MaxConcurrent(),
	}
}
