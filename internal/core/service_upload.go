package core

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
)

// CreateUpload starts an upload session with the first chunk. declaredSize
// is the Upload-Length header, 0 when the client did not send one.
func (s *Service) CreateUpload(ctx context.Context, fileName string, declaredSize int64, body io.Reader) (UploadSession, error) {
	if declaredSize > s.cfg.MaxFileSize {
		return UploadSession{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrUploadTooLarge, declaredSize, s.cfg.MaxFileSize)
	}

	data, err := s.readChunk(body)
	if err != nil {
		return UploadSession{}, err
	}
	if int64(len(data)) > s.cfg.MaxFileSize || (declaredSize > 0 && int64(len(data)) > declaredSize) {
		return UploadSession{}, ErrUploadTooLarge
	}

	now := s.now().UTC()
	sess := UploadSession{
		ID:        s.newUploadID(),
		FileName:  cleanFileName(fileName),
		Size:      declaredSize,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.stores.Spool.WriteAt(ctx, sess.ID, 0, data); err != nil {
		return UploadSession{}, fmt.Errorf("spool chunk: %w", err)
	}
	sess.Received = int64(len(data))
	sess.Chunks = 1

	if err := s.stores.Uploads.Save(ctx, sess); err != nil {
		_ = s.stores.Spool.Remove(ctx, sess.ID)
		return UploadSession{}, fmt.Errorf("save upload: %w", err)
	}

	s.logger.Debug("upload created",
		"upload_id", sess.ID,
		"file", sess.FileName,
		"size", sess.Size,
		"received", sess.Received,
	)
	return sess, nil
}

// AppendChunk writes a chunk at offset. A negative offset appends at the
// current received size. Re-sending a chunk that was already stored (a
// retry after a lost response) overwrites the same bytes.
func (s *Service) AppendChunk(ctx context.Context, id string, offset int64, body io.Reader) (UploadSession, error) {
	unlock := s.lockUpload(id)
	defer unlock()

	sess, err := s.stores.Uploads.Get(ctx, id)
	if err != nil {
		return UploadSession{}, err
	}
	if sess.Sealed {
		return UploadSession{}, ErrUploadSealed
	}
	if offset < 0 {
		offset = sess.Received
	}
	if offset > sess.Received {
		return UploadSession{}, fmt.Errorf("%w: offset %d, received %d", ErrOffsetMismatch, offset, sess.Received)
	}

	data, err := s.readChunk(body)
	if err != nil {
		return UploadSession{}, err
	}
	end := offset + int64(len(data))
	if end > s.cfg.MaxFileSize || (sess.Size > 0 && end > sess.Size) {
		return UploadSession{}, ErrUploadTooLarge
	}

	if err := s.stores.Spool.WriteAt(ctx, id, offset, data); err != nil {
		return UploadSession{}, fmt.Errorf("spool chunk: %w", err)
	}

	if end > sess.Received {
		sess.Received = end
		sess.Chunks++
	}
	sess.UpdatedAt = s.now().UTC()

	if err := s.stores.Uploads.Save(ctx, sess); err != nil {
		return UploadSession{}, fmt.Errorf("save upload: %w", err)
	}
	return sess, nil
}

// GetUpload returns an upload session.
func (s *Service) GetUpload(ctx context.Context, id string) (UploadSession, error) {
	return s.stores.Uploads.Get(ctx, id)
}

// readChunk reads one chunk body, failing when it exceeds MaxChunkSize.
func (s *Service) readChunk(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, s.cfg.MaxChunkSize+1))
	if err != nil {
		return nil, fmt.Errorf("read chunk: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxChunkSize {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrChunkTooLarge, s.cfg.MaxChunkSize)
	}
	if len(data) == 0 {
		return nil, ErrEmptyChunk
	}
	return data, nil
}

func (s *Service) lockUpload(id string) func() {
	return s.uploadLocks.lock(id)
}

// keyedMutex serializes work per key. An entry lives only while someone
// holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func cleanFileName(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, `\`, "/")))
	if name == "." || name == "/" || name == "" {
		return "upload.csv"
	}
	return name
}
