package core

import (
	"errors"
	"fmt"
)

var (
	ErrUploadNotFound   = errors.New("upload not found")
	ErrUploadIncomplete = errors.New("upload incomplete")
	ErrUploadSealed     = errors.New("upload already imported")
	ErrUploadTooLarge   = errors.New("file too large")
	ErrChunkTooLarge    = errors.New("chunk too large")
	ErrOffsetMismatch   = errors.New("upload offset beyond received size")
	ErrEmptyChunk       = errors.New("empty chunk")

	ErrJobNotFound    = errors.New("import job not found")
	ErrJobActive      = errors.New("import already running for upload")
	ErrJobFinished    = errors.New("import job already finished")
	ErrReportNotFound = errors.New("error report not found")

	ErrDatasetNotFound = errors.New("dataset not found")
	ErrDuplicateKey    = errors.New("duplicate key")
	ErrLocked          = errors.New("lock held by another owner")
)

// ConfigError is returned when an import configuration is incomplete or
// inconsistent. It never reaches the processing stage.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// RowError describes why a single row was rejected.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }
