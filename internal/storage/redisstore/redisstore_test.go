package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestUploads_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	store := NewUploads(client, time.Hour)

	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	sess := core.UploadSession{
		ID:        "01HXUPLOAD",
		FileName:  "products.csv",
		Size:      2048,
		Received:  1024,
		Chunks:    1,
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, store.Save(ctx, sess))
	assert.Equal(t, time.Hour, mr.TTL("bulkimport:upload:01HXUPLOAD"))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.FileName, got.FileName)
	assert.Equal(t, sess.Received, got.Received)
	assert.True(t, got.CreatedAt.Equal(created))

	require.NoError(t, store.Delete(ctx, sess.ID))
	_, err = store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, core.ErrUploadNotFound)
}

func TestUploads_Expire(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	store := NewUploads(client, time.Minute)

	require.NoError(t, store.Save(ctx, core.UploadSession{ID: "u1"}))
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "u1")
	assert.ErrorIs(t, err, core.ErrUploadNotFound)
}

func TestLocker_AcquireReleaseExtend(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	l := NewLocker(client)

	lease, err := l.Acquire(ctx, "import:upload:u1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:import:upload:u1"))

	_, err = l.Acquire(ctx, "import:upload:u1", time.Minute)
	assert.ErrorIs(t, err, core.ErrLocked)

	require.NoError(t, lease.Extend(ctx, 5*time.Minute))
	assert.Equal(t, 5*time.Minute, mr.TTL("lock:import:upload:u1"))

	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists("lock:import:upload:u1"))

	again, err := l.Acquire(ctx, "import:upload:u1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocker_LostLease(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	l := NewLocker(client)

	first, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	second, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, first.Extend(ctx, time.Minute), core.ErrLocked)
	require.NoError(t, first.Release(ctx))
	assert.True(t, mr.Exists("lock:k"), "stale release must not drop the new owner's key")

	require.NoError(t, second.Release(ctx))
}
