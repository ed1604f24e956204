package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu        sync.Mutex
	starts    []string // upload ids
	configs   []ImportConfig
	cancels   []string
	startErr  error
	cancelErr error
	embed     *Snapshot
	gate      chan struct{} // when set, StartImport waits on it
}

func (b *fakeBackend) StartImport(ctx context.Context, uploadID string, cfg ImportConfig) (StartResult, error) {
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts = append(b.starts, uploadID)
	b.configs = append(b.configs, cfg)
	if b.startErr != nil {
		return StartResult{}, b.startErr
	}
	return StartResult{JobID: fmt.Sprintf("job-%d", len(b.starts)), Snapshot: b.embed}, nil
}

func (b *fakeBackend) CancelImport(ctx context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels = append(b.cancels, jobID)
	return b.cancelErr
}

func (b *fakeBackend) startCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.starts)
}

func (b *fakeBackend) cancelCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cancels)
}

func str(s string) *string { return &s }

func i64(n int64) *int64 { return &n }

func f64(f float64) *float64 { return &f }

func intp(n int) *int { return &n }

func statusSnap(s string) Snapshot { return Snapshot{Status: str(s)} }

func readyController(t *testing.T, b *fakeBackend, opts ...ControllerOption) *Controller {
	t.Helper()
	c := NewController(b, opts...)
	require.NoError(t, c.SetUpload("up-1"))
	c.Configure(ImportConfig{Dataset: "categories", Strategy: "upsert"})
	return c
}

func startedController(t *testing.T, b *fakeBackend) *Controller {
	t.Helper()
	c := readyController(t, b)
	jobID, err := c.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", jobID)
	return c
}

func TestController_StartFromIdle(t *testing.T) {
	b := &fakeBackend{}
	c := readyController(t, b)
	assert.Equal(t, StatusIdle, c.Job().Status)

	jobID, err := c.Start(context.Background())
	require.NoError(t, err)

	job := c.Job()
	assert.Equal(t, StatusProcessing, job.Status)
	assert.Equal(t, jobID, job.JobID)
	assert.Equal(t, "up-1", job.UploadID)
	assert.Equal(t, []string{"up-1"}, b.starts)
	assert.Equal(t, ImportConfig{Dataset: "categories", Strategy: "upsert"}, b.configs[0])
}

func TestController_StartWhileProcessingIsNoop(t *testing.T) {
	b := &fakeBackend{}
	c := startedController(t, b)

	jobID, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
	assert.Equal(t, 1, b.startCount())

	require.NoError(t, c.Cancel(context.Background()))
	_, err = c.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, b.startCount())
}

func TestController_ConfigurationErrors(t *testing.T) {
	catalog := StaticCatalog{"products": true, "categories": false}

	tests := []struct {
		name  string
		cfg   ImportConfig
		field string
	}{
		{"missing dataset", ImportConfig{}, "dataset"},
		{"unknown dataset", ImportConfig{Dataset: "orders"}, "dataset"},
		{"missing reference", ImportConfig{Dataset: "products"}, "reference"},
		{"bad strategy", ImportConfig{Dataset: "categories", Strategy: "merge"}, "strategy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{}
			c := NewController(b, WithCatalog(catalog))
			require.NoError(t, c.SetUpload("up-1"))
			c.Configure(tt.cfg)

			_, err := c.Start(context.Background())

			var ce *ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
			assert.Equal(t, 0, b.startCount())
			assert.Equal(t, StatusIdle, c.Job().Status)
		})
	}
}

func TestController_ReferenceSatisfied(t *testing.T) {
	b := &fakeBackend{}
	c := NewController(b, WithCatalog(StaticCatalog{"products": true}))
	require.NoError(t, c.SetUpload("up-1"))
	c.Configure(ImportConfig{Dataset: "products", Reference: "categories"})

	_, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, b.startCount())
}

func TestController_StartWithoutUpload(t *testing.T) {
	b := &fakeBackend{}
	c := NewController(b)
	c.Configure(ImportConfig{Dataset: "categories"})

	_, err := c.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoUpload)
	assert.Equal(t, 0, b.startCount())
}

func TestController_StartFailureMovesToError(t *testing.T) {
	b := &fakeBackend{startErr: errors.New("connection refused")}
	c := readyController(t, b)

	_, err := c.Start(context.Background())
	require.Error(t, err)

	job := c.Job()
	assert.Equal(t, StatusError, job.Status)
	assert.EqualError(t, job.Err, "connection refused")
	assert.Equal(t, "up-1", job.UploadID)
}

func TestController_CancelOnlyFromProcessing(t *testing.T) {
	b := &fakeBackend{}
	c := readyController(t, b)

	require.NoError(t, c.Cancel(context.Background()))
	assert.Equal(t, StatusIdle, c.Job().Status)
	assert.Equal(t, 0, b.cancelCount())

	_, err := c.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Cancel(context.Background()))
	assert.Equal(t, StatusCancelling, c.Job().Status)
	assert.Equal(t, []string{"job-1"}, b.cancels)

	// second cancel while cancelling does nothing
	require.NoError(t, c.Cancel(context.Background()))
	assert.Equal(t, 1, b.cancelCount())
}

func TestController_CancelConfirmedBySnapshot(t *testing.T) {
	b := &fakeBackend{}
	c := startedController(t, b)

	require.NoError(t, c.Cancel(context.Background()))

	// a lagging response must not undo the cancel
	assert.True(t, c.Apply("job-1", Snapshot{Status: str("processing"), Processed: i64(40)}))
	assert.Equal(t, StatusCancelling, c.Job().Status)
	assert.Equal(t, int64(40), c.Job().Processed)

	assert.True(t, c.Apply("job-1", statusSnap("cancelled")))
	assert.Equal(t, StatusCancelled, c.Job().Status)

	// terminal: later snapshots are ignored
	assert.False(t, c.Apply("job-1", statusSnap("finished")))
	assert.Equal(t, StatusCancelled, c.Job().Status)
}

func TestController_CancelRequestFailure(t *testing.T) {
	b := &fakeBackend{cancelErr: errors.New("boom")}
	c := startedController(t, b)

	err := c.Cancel(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusCancelling, c.Job().Status)
}

func TestController_CancelBeforeJobID(t *testing.T) {
	b := &fakeBackend{gate: make(chan struct{})}
	c := readyController(t, b)

	done := make(chan error, 1)
	go func() {
		_, err := c.Start(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return c.Job().Status == StatusProcessing }, timeout, tick)
	require.NoError(t, c.Cancel(context.Background()))
	assert.Equal(t, StatusCancelling, c.Job().Status)
	assert.Equal(t, 0, b.cancelCount())

	close(b.gate)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"job-1"}, b.cancels)
	assert.Equal(t, StatusCancelling, c.Job().Status)
}

func TestController_ServerSignalsDone(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
	}{
		{"done", statusSnap("done")},
		{"finished", statusSnap("finished")},
		{"completed", statusSnap("Completed")},
		{"progress", Snapshot{Progress: f64(100)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := startedController(t, &fakeBackend{})
			assert.True(t, c.Apply("job-1", tt.snap))

			job := c.Job()
			assert.Equal(t, StatusFinished, job.Status)
			assert.Equal(t, 100, job.Percent())
		})
	}
}

func TestController_ServerError(t *testing.T) {
	c := startedController(t, &fakeBackend{})
	c.Apply("job-1", Snapshot{Message: str("row 4: invalid price")})
	c.Apply("job-1", statusSnap("error"))

	job := c.Job()
	assert.Equal(t, StatusError, job.Status)

	var je *JobError
	require.ErrorAs(t, job.Err, &je)
	assert.Equal(t, "row 4: invalid price", je.Error())
	assert.Equal(t, "job-1", je.JobID)
}

func TestController_ServerErrorWithoutMessage(t *testing.T) {
	c := startedController(t, &fakeBackend{})
	c.Apply("job-1", statusSnap("failed"))

	job := c.Job()
	assert.Equal(t, StatusError, job.Status)
	assert.EqualError(t, job.Err, genericJobMessage)
}

func TestController_RetryReusesUpload(t *testing.T) {
	b := &fakeBackend{}
	c := startedController(t, b)
	c.Apply("job-1", statusSnap("error"))

	jobID, err := c.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job-2", jobID)

	job := c.Job()
	assert.Equal(t, StatusProcessing, job.Status)
	assert.Nil(t, job.Err)
	assert.Equal(t, []string{"up-1", "up-1"}, b.starts)
}

func TestController_RetryOnlyFromError(t *testing.T) {
	b := &fakeBackend{}
	c := readyController(t, b)

	_, err := c.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, b.startCount())

	_, err = c.Start(context.Background())
	require.NoError(t, err)
	c.Apply("job-1", statusSnap("finished"))

	_, err = c.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, b.startCount())
	assert.Equal(t, StatusFinished, c.Job().Status)
}

func TestController_RetryWithoutUpload(t *testing.T) {
	b := &fakeBackend{}
	c := startedController(t, b)
	c.Apply("job-1", statusSnap("error"))
	require.NoError(t, c.SetUpload(""))

	_, err := c.Retry(context.Background())
	assert.ErrorIs(t, err, ErrNoUpload)
	assert.Equal(t, 1, b.startCount())
}

func TestController_ApplyIgnoresOtherJobs(t *testing.T) {
	c := startedController(t, &fakeBackend{})

	assert.False(t, c.Apply("job-9", Snapshot{Processed: i64(99)}))
	assert.False(t, c.Apply("job-1", Snapshot{JobID: str("job-9"), Processed: i64(99)}))
	assert.Equal(t, int64(0), c.Job().Processed)
}

func TestController_ApplyMergesPartialSnapshots(t *testing.T) {
	c := startedController(t, &fakeBackend{})

	c.Apply("job-1", Snapshot{Processed: i64(10), Total: i64(100), Current: &Current{Line: intp(11), SKU: str("SKU-1"), Name: str("Mug")}})
	c.Apply("job-1", Snapshot{Processed: i64(20)})

	job := c.Job()
	assert.Equal(t, int64(20), job.Processed)
	require.NotNil(t, job.Total)
	assert.Equal(t, int64(100), *job.Total)
	require.NotNil(t, job.Current)
	assert.Equal(t, Position{Line: 11, SKU: "SKU-1", Name: "Mug"}, *job.Current)
	assert.Equal(t, 20, job.Percent())
}

func TestController_EmbeddedFirstSnapshot(t *testing.T) {
	b := &fakeBackend{embed: &Snapshot{Status: str("processing"), Total: i64(50)}}
	c := readyController(t, b)

	_, err := c.Start(context.Background())
	require.NoError(t, err)

	job := c.Job()
	require.NotNil(t, job.Total)
	assert.Equal(t, int64(50), *job.Total)
}

func TestController_ResetKeepsUpload(t *testing.T) {
	c := startedController(t, &fakeBackend{})
	c.Apply("job-1", Snapshot{Status: str("finished"), Errors: i64(2), Report: str("/r/1.csv")})

	c.Reset()

	job := c.Job()
	assert.Equal(t, StatusIdle, job.Status)
	assert.Equal(t, "up-1", job.UploadID)
	assert.Empty(t, job.JobID)
	assert.Empty(t, job.ReportURL)
	assert.Zero(t, job.Errors)
	assert.Equal(t, "categories", c.Config().Dataset)
}

func TestController_StartFromTerminalResets(t *testing.T) {
	b := &fakeBackend{}
	c := startedController(t, b)
	c.Apply("job-1", Snapshot{Status: str("finished"), Errors: i64(3), Report: str("/r/1.csv")})

	jobID, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job-2", jobID)

	job := c.Job()
	assert.Equal(t, StatusProcessing, job.Status)
	assert.Zero(t, job.Errors)
	assert.Empty(t, job.ReportURL)
}

func TestController_SetUploadWhileActive(t *testing.T) {
	c := startedController(t, &fakeBackend{})
	assert.ErrorIs(t, c.SetUpload("up-2"), ErrJobActive)
	assert.Equal(t, "up-1", c.Job().UploadID)
}

func TestController_ChangeHandler(t *testing.T) {
	var (
		mu       sync.Mutex
		statuses []Status
	)
	b := &fakeBackend{}
	c := NewController(b, WithChangeHandler(func(j Job) {
		mu.Lock()
		statuses = append(statuses, j.Status)
		mu.Unlock()
	}))
	require.NoError(t, c.SetUpload("up-1"))
	c.Configure(ImportConfig{Dataset: "users"})

	_, err := c.Start(context.Background())
	require.NoError(t, err)
	c.Apply("job-1", statusSnap("done"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusIdle, StatusProcessing, StatusProcessing, StatusFinished}, statuses)
}
