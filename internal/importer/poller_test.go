package importer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type manualTicker struct {
	interval time.Duration
	ch       chan time.Time
	stopped  atomic.Bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               { t.stopped.Store(true) }

func (t *manualTicker) fire() { t.ch <- time.Now() }

type tickerFactory struct {
	mu      sync.Mutex
	tickers []*manualTicker
	created chan *manualTicker
}

func newTickerFactory() *tickerFactory {
	return &tickerFactory{created: make(chan *manualTicker, 16)}
}

func (f *tickerFactory) new(d time.Duration) Ticker {
	t := &manualTicker{interval: d, ch: make(chan time.Time)}
	f.mu.Lock()
	f.tickers = append(f.tickers, t)
	f.mu.Unlock()
	f.created <- t
	return t
}

func (f *tickerFactory) next(t *testing.T) *manualTicker {
	t.Helper()
	select {
	case tk := <-f.created:
		return tk
	case <-time.After(timeout):
		t.Fatal("ticker was not created")
		return nil
	}
}

func (f *tickerFactory) running() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tickers {
		if !t.stopped.Load() {
			n++
		}
	}
	return n
}

// scriptFetcher returns scripted responses per job, in order.
type scriptFetcher struct {
	mu      sync.Mutex
	scripts map[string][]fetchResult
	calls   map[string]int
}

type fetchResult struct {
	snap Snapshot
	err  error
	gate chan struct{}
}

func (f *scriptFetcher) FetchStatus(ctx context.Context, jobID string) (Snapshot, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	n := f.calls[jobID]
	f.calls[jobID]++
	script := f.scripts[jobID]
	f.mu.Unlock()

	if n >= len(script) {
		return Snapshot{}, errors.New("no more responses")
	}
	res := script[n]
	if res.gate != nil {
		<-res.gate
	}
	return res.snap, res.err
}

func (f *scriptFetcher) count(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[jobID]
}

type snapSink struct {
	ch chan Snapshot
}

func newSnapSink() *snapSink { return &snapSink{ch: make(chan Snapshot, 16)} }

func (s *snapSink) receive(jobID string, snap Snapshot) { s.ch <- snap }

func (s *snapSink) next(t *testing.T) Snapshot {
	t.Helper()
	select {
	case snap := <-s.ch:
		return snap
	case <-time.After(timeout):
		t.Fatal("no snapshot delivered")
		return Snapshot{}
	}
}

func (s *snapSink) none(t *testing.T) {
	t.Helper()
	select {
	case snap := <-s.ch:
		t.Fatalf("unexpected snapshot %+v", snap)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPoller_PercentSequenceAndDone(t *testing.T) {
	fetcher := &scriptFetcher{scripts: map[string][]fetchResult{
		"job-1": {
			{snap: Snapshot{Processed: i64(10), Total: i64(100)}},
			{snap: Snapshot{Processed: i64(55), Total: i64(100)}},
			{snap: Snapshot{Status: str("done"), Processed: i64(100), Total: i64(100)}},
		},
	}}
	sink := newSnapSink()
	factory := newTickerFactory()

	var doneCalls atomic.Int32
	done := make(chan struct{})
	p := NewPoller(fetcher, sink.receive,
		WithTicker(factory.new),
		WithDoneHandler(func(jobID string, _ Snapshot) {
			assert.Equal(t, "job-1", jobID)
			if doneCalls.Add(1) == 1 {
				close(done)
			}
		}))

	p.Start("job-1", 600*time.Millisecond)
	tk := factory.next(t)
	assert.Equal(t, 600*time.Millisecond, tk.interval)

	var merged Snapshot
	var percents []int
	for range 3 {
		tk.fire()
		merged = merged.Merge(sink.next(t))
		percents = append(percents, Percent(merged.Processed, merged.Total, 0))
	}
	assert.Equal(t, []int{10, 55, 100}, percents)

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("done handler not called")
	}
	require.Eventually(t, func() bool { return tk.stopped.Load() }, timeout, tick)
	assert.Equal(t, int32(1), doneCalls.Load())

	_, polling := p.Polling()
	assert.False(t, polling)
	assert.Equal(t, 3, fetcher.count("job-1"))
}

func TestPoller_StartIsIdempotent(t *testing.T) {
	fetcher := &scriptFetcher{scripts: map[string][]fetchResult{
		"job-1": {{snap: Snapshot{Processed: i64(1)}}, {snap: Snapshot{Processed: i64(2)}}},
	}}
	sink := newSnapSink()
	factory := newTickerFactory()
	p := NewPoller(fetcher, sink.receive, WithTicker(factory.new))
	defer p.Stop()

	p.Start("job-1", time.Second)
	first := factory.next(t)
	p.Start("job-1", time.Second)
	second := factory.next(t)

	require.Eventually(t, func() bool { return first.stopped.Load() }, timeout, tick)
	assert.Equal(t, 1, factory.running())

	second.fire()
	assert.Equal(t, int64(1), *sink.next(t).Processed)
	sink.none(t)
	assert.Equal(t, 1, fetcher.count("job-1"))
}

func TestPoller_DropsStaleResponses(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &scriptFetcher{scripts: map[string][]fetchResult{
		"job-a": {{snap: Snapshot{Processed: i64(5)}, gate: gate}},
		"job-b": {{snap: Snapshot{Processed: i64(7)}}},
	}}
	sink := newSnapSink()
	factory := newTickerFactory()
	p := NewPoller(fetcher, sink.receive, WithTicker(factory.new))
	defer p.Stop()

	p.Start("job-a", time.Second)
	a := factory.next(t)
	a.fire()
	require.Eventually(t, func() bool { return fetcher.count("job-a") == 1 }, timeout, tick)

	p.Start("job-b", time.Second)
	b := factory.next(t)
	close(gate)
	sink.none(t)

	b.fire()
	assert.Equal(t, int64(7), *sink.next(t).Processed)
}

func TestPoller_SkipsFailedPolls(t *testing.T) {
	fetcher := &scriptFetcher{scripts: map[string][]fetchResult{
		"job-1": {
			{err: &ResponseError{Method: "GET", URL: "/api/imports/job-1", Status: 502}},
			{snap: Snapshot{Processed: i64(3)}},
		},
	}}
	sink := newSnapSink()
	factory := newTickerFactory()

	var doneCalls atomic.Int32
	p := NewPoller(fetcher, sink.receive, WithTicker(factory.new),
		WithDoneHandler(func(string, Snapshot) { doneCalls.Add(1) }))
	defer p.Stop()

	p.Start("job-1", time.Second)
	tk := factory.next(t)

	tk.fire()
	sink.none(t)
	tk.fire()
	assert.Equal(t, int64(3), *sink.next(t).Processed)

	id, polling := p.Polling()
	assert.True(t, polling)
	assert.Equal(t, "job-1", id)
	assert.Zero(t, doneCalls.Load())
}

func TestPoller_AuthErrorStopsPolling(t *testing.T) {
	fetcher := &scriptFetcher{scripts: map[string][]fetchResult{
		"job-1": {
			{err: &AuthError{Status: 403}},
			{snap: Snapshot{Status: str("finished")}},
		},
	}}
	sink := newSnapSink()
	factory := newTickerFactory()

	var doneCalls atomic.Int32
	failed := make(chan error, 1)
	p := NewPoller(fetcher, sink.receive, WithTicker(factory.new),
		WithDoneHandler(func(string, Snapshot) { doneCalls.Add(1) }),
		WithFailureHandler(func(jobID string, err error) {
			assert.Equal(t, "job-1", jobID)
			failed <- err
		}))
	defer p.Stop()

	p.Start("job-1", time.Second)
	tk := factory.next(t)
	tk.fire()

	select {
	case err := <-failed:
		assert.True(t, IsAuthError(err))
	case <-time.After(timeout):
		t.Fatal("failure handler not called")
	}
	require.Eventually(t, func() bool { return tk.stopped.Load() }, timeout, tick)

	_, polling := p.Polling()
	assert.False(t, polling)
	sink.none(t)
	assert.Zero(t, doneCalls.Load())
	assert.Equal(t, 1, fetcher.count("job-1"))
}

func TestPoller_StopsOnCancelledAndProgress(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
	}{
		{"cancelled", Snapshot{Status: str("cancelled")}},
		{"error", Snapshot{Status: str("error")}},
		{"progress", Snapshot{Progress: f64(100)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &scriptFetcher{scripts: map[string][]fetchResult{"job-1": {{snap: tt.snap}}}}
			sink := newSnapSink()
			factory := newTickerFactory()
			done := make(chan struct{})
			p := NewPoller(fetcher, sink.receive, WithTicker(factory.new),
				WithDoneHandler(func(string, Snapshot) { close(done) }))

			p.Start("job-1", time.Second)
			tk := factory.next(t)
			tk.fire()
			sink.next(t)

			select {
			case <-done:
			case <-time.After(timeout):
				t.Fatal("done handler not called")
			}
			require.Eventually(t, func() bool { return tk.stopped.Load() }, timeout, tick)
		})
	}
}

func TestPoller_StopDoesNotCallDone(t *testing.T) {
	fetcher := &scriptFetcher{}
	factory := newTickerFactory()
	var doneCalls atomic.Int32
	p := NewPoller(fetcher, func(string, Snapshot) {}, WithTicker(factory.new),
		WithDoneHandler(func(string, Snapshot) { doneCalls.Add(1) }))

	p.Start("job-1", time.Second)
	tk := factory.next(t)
	p.Stop()

	require.Eventually(t, func() bool { return tk.stopped.Load() }, timeout, tick)
	assert.Zero(t, doneCalls.Load())
	_, polling := p.Polling()
	assert.False(t, polling)
}

func TestPoller_DefaultInterval(t *testing.T) {
	factory := newTickerFactory()
	p := NewPoller(&scriptFetcher{}, func(string, Snapshot) {}, WithTicker(factory.new))
	defer p.Stop()

	p.Start("job-1", 0)
	assert.Equal(t, DefaultPollInterval, factory.next(t).interval)
}
