package importer

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Current is the wire form of the row currently being processed.
type Current struct {
	Line *int    `json:"line,omitempty"`
	SKU  *string `json:"sku,omitempty"`
	Name *string `json:"name,omitempty"`
}

// Snapshot is one status payload. Every field is optional: a nil field means
// the server did not send it (or sent null) and the previous value stands.
type Snapshot struct {
	JobID     *string  `json:"jobId,omitempty"`
	Status    *string  `json:"status,omitempty"`
	Processed *int64   `json:"processed,omitempty"`
	Total     *int64   `json:"total,omitempty"`
	Errors    *int64   `json:"errors,omitempty"`
	Current   *Current `json:"current,omitempty"`
	Progress  *float64 `json:"progress,omitempty"`
	Report    *string  `json:"report,omitempty"`
	ReportURL *string  `json:"reportUrl,omitempty"`
	Message   *string  `json:"message,omitempty"`
	Error     *string  `json:"error,omitempty"`
}

// DecodeSnapshot parses a status payload.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := sonic.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode status: %w", err)
	}
	return s, nil
}

// Merge overlays next onto s: the last non-absent value of each field wins.
// Current is replaced as a whole.
func (s Snapshot) Merge(next Snapshot) Snapshot {
	if next.JobID != nil {
		s.JobID = next.JobID
	}
	if next.Status != nil {
		s.Status = next.Status
	}
	if next.Processed != nil {
		s.Processed = next.Processed
	}
	if next.Total != nil {
		s.Total = next.Total
	}
	if next.Errors != nil {
		s.Errors = next.Errors
	}
	if next.Current != nil {
		s.Current = next.Current
	}
	if next.Progress != nil {
		s.Progress = next.Progress
	}
	if next.Report != nil {
		s.Report = next.Report
	}
	if next.ReportURL != nil {
		s.ReportURL = next.ReportURL
	}
	if next.Message != nil {
		s.Message = next.Message
	}
	if next.Error != nil {
		s.Error = next.Error
	}
	return s
}

// State returns the FSM status named by the payload, if any.
func (s Snapshot) State() (Status, bool) {
	if s.Status == nil {
		return "", false
	}
	return parseStatus(*s.Status)
}

// Terminal reports whether polling should stop after this snapshot:
// a finished, cancelled or failed status, or a numeric progress of 100 or more.
func (s Snapshot) Terminal() bool {
	if st, ok := s.State(); ok && st.Terminal() {
		return true
	}
	return s.Progress != nil && *s.Progress >= 100
}

// ReportLink returns the report reference carried by the snapshot, if any.
// Both the "report" and "reportUrl" spellings are accepted.
func (s Snapshot) ReportLink() string {
	if s.Report != nil && *s.Report != "" {
		return *s.Report
	}
	if s.ReportURL != nil && *s.ReportURL != "" {
		return *s.ReportURL
	}
	return ""
}

// ErrorMessage returns the server-supplied failure message, if any.
func (s Snapshot) ErrorMessage() string {
	if s.Message != nil && *s.Message != "" {
		return *s.Message
	}
	if s.Error != nil && *s.Error != "" {
		return *s.Error
	}
	return ""
}

func (c *Current) position() *Position {
	if c == nil {
		return nil
	}
	p := &Position{}
	if c.Line != nil {
		p.Line = *c.Line
	}
	if c.SKU != nil {
		p.SKU = *c.SKU
	}
	if c.Name != nil {
		p.Name = *c.Name
	}
	return p
}
