// Package redisstore keeps upload sessions and locks in Redis so several
// server instances can share them.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

// UploadSessionTTL is how long an upload session lives after its last
// change.
const UploadSessionTTL = 24 * time.Hour

// Uploads is a core.UploadStore holding each session as a JSON string.
type Uploads struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewUploads returns an upload store. A non-positive ttl selects
// UploadSessionTTL.
func NewUploads(client *redis.Client, ttl time.Duration) *Uploads {
	if ttl <= 0 {
		ttl = UploadSessionTTL
	}
	return &Uploads{client: client, ttl: ttl, prefix: "bulkimport:upload:"}
}

func (u *Uploads) key(id string) string {
	return u.prefix + id
}

func (u *Uploads) Save(ctx context.Context, s core.UploadSession) error {
	data, err := sonic.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal upload session: %w", err)
	}
	if err := u.client.Set(ctx, u.key(s.ID), data, u.ttl).Err(); err != nil {
		return fmt.Errorf("save upload session %s: %w", s.ID, err)
	}
	return nil
}

func (u *Uploads) Get(ctx context.Context, id string) (core.UploadSession, error) {
	data, err := u.client.Get(ctx, u.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.UploadSession{}, core.ErrUploadNotFound
	}
	if err != nil {
		return core.UploadSession{}, fmt.Errorf("get upload session %s: %w", id, err)
	}

	var s core.UploadSession
	if err := sonic.Unmarshal(data, &s); err != nil {
		return core.UploadSession{}, fmt.Errorf("decode upload session %s: %w", id, err)
	}
	return s, nil
}

func (u *Uploads) Delete(ctx context.Context, id string) error {
	return u.client.Del(ctx, u.key(id)).Err()
}
