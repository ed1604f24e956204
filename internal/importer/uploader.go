package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

const DefaultChunkSize int64 = 1 << 20

// DefaultRetryDelays is the backoff used for transient chunk failures.
var DefaultRetryDelays = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	3 * time.Second,
}

// errNoUploadID marks a successful chunk 0 response without an identifier.
var errNoUploadID = errors.New("response carried no upload id")

// File is the source of an upload.
type File struct {
	Name string
	Size int64
	Data io.ReaderAt
}

// OpenFile opens path for uploading. The caller closes the returned file.
func OpenFile(path string) (File, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return File{}, nil, err
	}
	return File{Name: info.Name(), Size: info.Size(), Data: f}, f, nil
}

// UploadConfig controls one upload.
type UploadConfig struct {
	UploadURL   string
	ChunkSize   int64           // defaults to DefaultChunkSize
	RetryDelays []time.Duration // nil means DefaultRetryDelays; empty means no retries
}

func (c UploadConfig) withDefaults() UploadConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.RetryDelays == nil {
		c.RetryDelays = DefaultRetryDelays
	}
	return c
}

// UploadSession describes an upload in flight.
type UploadSession struct {
	UploadID    string
	FileName    string
	Size        int64
	ChunkSize   int64
	TotalChunks int
	ChunksSent  int
	RetryDelays []time.Duration
	Complete    bool
}

// Uploader sends files to the upload endpoint in fixed-size chunks.
type Uploader struct {
	client  *Client
	sleep   func(ctx context.Context, d time.Duration) error
	onChunk func(UploadSession)
}

// UploaderOption configures an Uploader.
type UploaderOption func(*Uploader)

// WithSleep replaces the wait used between retries.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) UploaderOption {
	return func(u *Uploader) { u.sleep = fn }
}

// WithChunkObserver registers fn to be called after each accepted chunk.
func WithChunkObserver(fn func(UploadSession)) UploaderOption {
	return func(u *Uploader) { u.onChunk = fn }
}

// NewUploader creates an Uploader that sends requests through client.
func NewUploader(client *Client, opts ...UploaderOption) *Uploader {
	u := &Uploader{
		client: client,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Upload sends f chunk by chunk and returns the server's upload id.
//
// Chunks are sent strictly in order. A failed chunk is retried after each of
// cfg.RetryDelays in turn; once they run out the upload fails with an
// UploadError and nothing that was sent can be reused.
func (u *Uploader) Upload(ctx context.Context, f File, cfg UploadConfig) (string, error) {
	cfg = cfg.withDefaults()
	if f.Size <= 0 || f.Data == nil {
		return "", &UploadError{Chunk: 0, Err: ErrEmptyFile}
	}

	sess := UploadSession{
		FileName:    f.Name,
		Size:        f.Size,
		ChunkSize:   cfg.ChunkSize,
		TotalChunks: int((f.Size + cfg.ChunkSize - 1) / cfg.ChunkSize),
		RetryDelays: cfg.RetryDelays,
	}

	buf := make([]byte, min(cfg.ChunkSize, f.Size))
	for i := 0; i < sess.TotalChunks; i++ {
		offset := int64(i) * cfg.ChunkSize
		chunk := buf[:min(cfg.ChunkSize, f.Size-offset)]

		n, err := f.Data.ReadAt(chunk, offset)
		if n < len(chunk) {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return "", &UploadError{Chunk: i, Err: fmt.Errorf("read chunk: %w", err)}
		}

		id, err := u.sendChunk(ctx, cfg, f, sess.UploadID, i, offset, chunk)
		if err != nil {
			return "", err
		}
		if i == 0 {
			sess.UploadID = id
		}

		sess.ChunksSent++
		sess.Complete = sess.ChunksSent == sess.TotalChunks
		if u.onChunk != nil {
			u.onChunk(sess)
		}
	}

	return sess.UploadID, nil
}

// sendChunk issues one chunk. Each failure but the last of
// len(RetryDelays) is followed by the matching delay and a new attempt.
func (u *Uploader) sendChunk(ctx context.Context, cfg UploadConfig, f File, uploadID string, index int, offset int64, chunk []byte) (string, error) {
	attempts := 0
	for {
		attempts++
		id, status, err := u.attempt(ctx, cfg, f, uploadID, index, offset, chunk)
		if err == nil {
			return id, nil
		}
		if IsAuthError(err) {
			return "", err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", &UploadError{Chunk: index, Attempts: attempts, Status: status, Err: ctxErr}
		}
		if !retryable(status, err) || attempts >= len(cfg.RetryDelays) {
			return "", &UploadError{Chunk: index, Attempts: attempts, Status: status, Err: err}
		}
		if err := u.sleep(ctx, cfg.RetryDelays[attempts-1]); err != nil {
			return "", &UploadError{Chunk: index, Attempts: attempts, Status: status, Err: err}
		}
	}
}

func (u *Uploader) attempt(ctx context.Context, cfg UploadConfig, f File, uploadID string, index int, offset int64, chunk []byte) (string, int, error) {
	method, target := http.MethodPost, cfg.UploadURL
	if index > 0 {
		method = http.MethodPatch
		patched, err := withPatch(cfg.UploadURL, uploadID)
		if err != nil {
			return "", 0, err
		}
		target = patched
	}

	header := http.Header{}
	header.Set("Content-Type", "application/octet-stream")
	header.Set("Upload-Offset", strconv.FormatInt(offset, 10))
	header.Set("Upload-Length", strconv.FormatInt(f.Size, 10))
	if f.Name != "" {
		header.Set("X-File-Name", f.Name)
	}

	resp, err := u.client.do(ctx, method, target, header, chunk)
	if err != nil {
		return "", 0, err
	}
	if resp.status < 200 || resp.status > 299 {
		return "", resp.status, fmt.Errorf("chunk rejected: %s", serverMessage(resp.body))
	}

	id := parseUploadID(resp.body)
	if index == 0 && id == "" {
		return "", resp.status, errNoUploadID
	}
	return id, resp.status, nil
}

// retryable reports whether a failed chunk may be sent again.
// Transport errors, timeouts, throttling and server errors are transient;
// other client errors are not.
func retryable(status int, err error) bool {
	switch {
	case status == 0:
		return true
	case errors.Is(err, errNoUploadID):
		return true
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	}
	return false
}

// withPatch appends patch=<id> to the upload URL, keeping its query.
func withPatch(rawURL, id string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse upload url: %w", err)
	}
	q := u.Query()
	q.Set("patch", id)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parseUploadID reads the identifier from an upload response. JSON objects
// carry it as "id" or "file"; anything that is not JSON is the id itself.
func parseUploadID(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}

	var obj struct {
		ID   *string `json:"id"`
		File *string `json:"file"`
	}
	if err := sonic.UnmarshalString(trimmed, &obj); err == nil {
		if obj.ID != nil && *obj.ID != "" {
			return *obj.ID
		}
		if obj.File != nil && *obj.File != "" {
			return *obj.File
		}
		return ""
	}

	var s string
	if err := sonic.UnmarshalString(trimmed, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return trimmed
}
