// Package core provides the business logic for the chunked import service.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"strings"
	"time"
)

// FieldType represents the expected data type for a CSV field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldNumeric
	FieldBool
)

// FieldSpec defines validation rules for a single CSV column.
type FieldSpec struct {
	Name       string              // Column header name (matched case-insensitively)
	DBColumn   string              // Key in Record.Values (derived from Name when empty)
	Type       FieldType           // Expected data type
	Required   bool                // Column must exist in CSV header
	AllowEmpty bool                // If true, empty values are allowed even when Required
	EnumValues []string            // Valid values for FieldEnum type
	Normalizer func(string) string // Optional transformation function
}

// Column returns the record key for the field.
func (f FieldSpec) Column() string {
	if f.DBColumn != "" {
		return f.DBColumn
	}
	return toColumnName(f.Name)
}

// HeaderIndex maps column names (lowercase) to their position in the CSV row.
type HeaderIndex map[string]int

// Strategy controls how accepted rows are written.
type Strategy string

const (
	StrategyInsert  Strategy = "insert"  // duplicate key is a failed row
	StrategyUpsert  Strategy = "upsert"  // duplicate key overwrites
	StrategyReplace Strategy = "replace" // dataset cleared in the same transaction
)

// Valid reports whether s is a known strategy. The empty strategy is valid
// and means insert.
func (s Strategy) Valid() bool {
	switch s {
	case "", StrategyInsert, StrategyUpsert, StrategyReplace:
		return true
	}
	return false
}

// OrDefault returns insert for the empty strategy.
func (s Strategy) OrDefault() Strategy {
	if s == "" {
		return StrategyInsert
	}
	return s
}

// ImportConfig is the user-selected configuration sent with a start request.
type ImportConfig struct {
	Dataset   string   `json:"dataset"`
	Strategy  Strategy `json:"strategy,omitempty"`
	Reference string   `json:"reference,omitempty"`
	DryRun    bool     `json:"dryRun,omitempty"`
}

// DatasetInfo contains display information about a dataset.
type DatasetInfo struct {
	Key               string   `json:"key"`
	Label             string   `json:"label"`
	Columns           []string `json:"columns"`
	KeyColumn         string   `json:"keyColumn"`
	ReferenceRequired bool     `json:"referenceRequired"`
	References        []string `json:"references,omitempty"`
}

// Record is one validated row ready for the record sink. Values are keyed by
// FieldSpec.Column and hold pgtype values produced by the ToPg* converters.
type Record struct {
	Key    string
	Values map[string]any
}

// BuildRecordFunc converts a validated CSV row into a Record.
type BuildRecordFunc func(row []string, idx HeaderIndex) (Record, error)

// Dataset contains everything needed to import one kind of file.
type Dataset struct {
	Info       DatasetInfo
	FieldSpecs []FieldSpec

	// ReferenceField names the column whose value must exist as a key in
	// the reference dataset chosen at start time. Empty when the dataset
	// has no reference.
	ReferenceField string

	// DisplayField is reported as the current row's name in progress
	// snapshots.
	DisplayField string

	Build BuildRecordFunc
}

// JobStatus is the server-side status word of an import job.
type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCancelling JobStatus = "cancelling"
	JobFinished   JobStatus = "finished"
	JobCancelled  JobStatus = "cancelled"
	JobError      JobStatus = "error"
)

// Terminal reports whether no further transitions happen from s.
func (s JobStatus) Terminal() bool {
	return s == JobFinished || s == JobCancelled || s == JobError
}

// JobPhase indicates the current stage of job processing.
type JobPhase string

const (
	PhaseStarting   JobPhase = "starting"
	PhaseCounting   JobPhase = "counting"
	PhaseValidating JobPhase = "validating"
	PhaseWriting    JobPhase = "writing"
	PhaseReporting  JobPhase = "reporting"
	PhaseDone       JobPhase = "done"
)

// Position identifies the row most recently handled by a job.
type Position struct {
	Line int    `json:"line,omitempty"`
	SKU  string `json:"sku,omitempty"`
	Name string `json:"name,omitempty"`
}

// JobSnapshot is the status document served to pollers and SSE subscribers.
type JobSnapshot struct {
	JobID      string     `json:"jobId"`
	UploadID   string     `json:"uploadId"`
	Dataset    string     `json:"dataset"`
	Status     JobStatus  `json:"status"`
	Phase      JobPhase   `json:"phase,omitempty"`
	Processed  int64      `json:"processed"`
	Total      *int64     `json:"total,omitempty"`
	Errors     int64      `json:"errors"`
	Inserted   int64      `json:"inserted"`
	Current    *Position  `json:"current,omitempty"`
	Progress   *float64   `json:"progress,omitempty"`
	Report     string     `json:"report,omitempty"`
	Message    string     `json:"message,omitempty"`
	Code       string     `json:"code,omitempty"`
	DryRun     bool       `json:"dryRun,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Percent returns the progress as a percentage (0-100).
func (s JobSnapshot) Percent() int {
	if s.Status == JobFinished {
		return 100
	}
	if s.Total == nil || *s.Total <= 0 {
		return 0
	}
	p := float64(s.Processed) * 100 / float64(*s.Total)
	if p > 100 {
		p = 100
	}
	return int(p)
}

// maxActiveProgress caps Progress while a job runs. Pollers treat 100 as
// done, and the commit and the report still follow the last row.
const maxActiveProgress = 99

// withProgress fills Progress from Processed/Total. Only a finished job
// reports 100.
func (s JobSnapshot) withProgress() JobSnapshot {
	switch {
	case s.Status == JobFinished:
		p := 100.0
		s.Progress = &p
	case s.Total != nil && *s.Total > 0:
		p := float64(s.Processed) * 100 / float64(*s.Total)
		if p > maxActiveProgress {
			p = maxActiveProgress
		}
		s.Progress = &p
	}
	if s.Current != nil {
		c := *s.Current
		s.Current = &c
	}
	return s
}

// JobRecord is the durable history entry for a job.
type JobRecord struct {
	JobSnapshot
	Strategy  Strategy `json:"strategy"`
	Reference string   `json:"reference,omitempty"`
	FileName  string   `json:"fileName,omitempty"`
}

// UploadSession tracks a chunked upload being received.
type UploadSession struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file"`
	Size      int64     `json:"size"` // declared Upload-Length, 0 when unknown
	Received  int64     `json:"received"`
	Chunks    int       `json:"chunks"`
	Sealed    bool      `json:"sealed"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Complete reports whether every declared byte has arrived. Uploads without
// a declared length are complete once any bytes were received.
func (u UploadSession) Complete() bool {
	if u.Size > 0 {
		return u.Received >= u.Size
	}
	return u.Received > 0
}

// toColumnName converts a header label like "Unit Price" to "unit_price".
func toColumnName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}
