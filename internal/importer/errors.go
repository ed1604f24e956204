package importer

import (
	"errors"
	"fmt"
)

// ErrEmptyFile is wrapped by UploadError when the selected file has no bytes.
var ErrEmptyFile = errors.New("empty file")

// ErrNoUpload is returned by Retry when the session has no upload to re-use.
// A failed upload cannot be retried as a job; it must be uploaded again.
var ErrNoUpload = errors.New("no upload to import: upload the file again")

// ErrJobActive is returned when the upload is changed while a job runs.
var ErrJobActive = errors.New("an import is already running for this session")

// ErrNoReport is returned by ErrorReport.Download before the server has
// published a report.
var ErrNoReport = errors.New("no error report available")

// genericJobMessage is shown when the server reports an error without a message.
const genericJobMessage = "The import failed on the server"

// UploadError means a chunk upload exhausted its retries (or hit a
// non-retryable response). The whole upload must restart from chunk 0.
type UploadError struct {
	Chunk    int   // index of the chunk that failed
	Attempts int   // requests issued for that chunk
	Status   int   // last HTTP status, 0 for transport errors
	Err      error // last underlying error
}

func (e *UploadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upload failed: chunk %d after %d attempt(s): status %d: %v", e.Chunk, e.Attempts, e.Status, e.Err)
	}
	return fmt.Sprintf("upload failed: chunk %d after %d attempt(s): %v", e.Chunk, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// AuthError means the anti-forgery token was missing or rejected.
// It is never retried automatically.
type AuthError struct {
	Status int
	Err    error // token resolution error, if the token could not be resolved
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request rejected as unauthenticated (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("request rejected as unauthenticated (status %d)", e.Status)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConfigurationError is a local validation failure raised before any request
// is sent, e.g. starting an import without a reference dataset.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid import configuration: %s %s", e.Field, e.Reason)
}

// JobError is a server-reported job failure observed through a status snapshot.
type JobError struct {
	JobID   string
	Message string
}

func (e *JobError) Error() string {
	if e.Message == "" {
		return genericJobMessage
	}
	return e.Message
}

// ResponseError is a non-2xx response from one of the job endpoints.
type ResponseError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *ResponseError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
}

// IsAuthError reports whether err is or wraps an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
