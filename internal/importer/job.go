package importer

import (
	"math"
	"strings"
)

// Status is the lifecycle state of an import job as seen by the client.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusCancelling Status = "cancelling"
	StatusFinished   Status = "finished"
	StatusCancelled  Status = "cancelled"
	StatusError      Status = "error"
)

// Terminal reports whether no further server updates are expected.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled || s == StatusError
}

// Active reports whether a job is running server-side.
func (s Status) Active() bool {
	return s == StatusProcessing || s == StatusCancelling
}

// parseStatus maps the words servers use in status payloads onto Status.
// The second return is false for words it does not recognise.
func parseStatus(word string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(word)) {
	case "done", "finished", "complete", "completed", "success", "succeeded":
		return StatusFinished, true
	case "cancelled", "canceled":
		return StatusCancelled, true
	case "error", "failed", "failure":
		return StatusError, true
	case "cancelling", "canceling":
		return StatusCancelling, true
	case "processing", "running", "started", "queued", "pending", "importing":
		return StatusProcessing, true
	case "idle":
		return StatusIdle, true
	}
	return "", false
}

// Position is the advisory pointer to the row being processed.
type Position struct {
	Line int
	SKU  string
	Name string
}

// Job is a read-only copy of the import job state.
type Job struct {
	JobID     string
	UploadID  string
	Status    Status
	Processed int64
	Total     *int64 // nil until the server knows the row count
	Errors    int64
	Current   *Position
	ReportURL string
	Err       error // set when Status is StatusError

	// Progress is the last numeric progress value reported by the server,
	// used as the nominal percent when row counts are unknown.
	Progress *float64
}

// Percent returns the display percentage for the job.
// Terminal finished jobs always read 100.
func (j Job) Percent() int {
	if j.Status == StatusFinished {
		return 100
	}
	nominal := 0
	if j.Progress != nil {
		nominal = clampPercent(int(math.Floor(*j.Progress)))
	}
	processed := j.Processed
	return Percent(&processed, j.Total, nominal)
}

// Percent computes floor(processed/total*100) when both are known and total
// is positive; otherwise it returns nominal.
func Percent(processed, total *int64, nominal int) int {
	if processed == nil || total == nil || *total <= 0 {
		return nominal
	}
	p := math.Floor(float64(*processed) * 100 / float64(*total))
	if p > 100 {
		return 100
	}
	return clampPercent(int(p))
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
