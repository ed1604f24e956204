package memory

import (
	"context"
	"time"

	ttlworker "github.com/FloatTech/ttl"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

// DefaultUploadTTL is how long an upload session is kept after its last
// change.
const DefaultUploadTTL = 24 * time.Hour

// Uploads is a core.UploadStore whose entries expire after a TTL.
type Uploads struct {
	cache *ttlworker.Cache[string, core.UploadSession]
}

// NewUploads returns an upload store. A non-positive ttl selects
// DefaultUploadTTL.
func NewUploads(ttl time.Duration) *Uploads {
	if ttl <= 0 {
		ttl = DefaultUploadTTL
	}
	return &Uploads{cache: ttlworker.NewCache[string, core.UploadSession](ttl)}
}

func (u *Uploads) Save(_ context.Context, s core.UploadSession) error {
	u.cache.Set(s.ID, s)
	return nil
}

func (u *Uploads) Get(_ context.Context, id string) (core.UploadSession, error) {
	s := u.cache.Get(id)
	if s.ID == "" {
		return core.UploadSession{}, core.ErrUploadNotFound
	}
	return s, nil
}

func (u *Uploads) Delete(_ context.Context, id string) error {
	u.cache.Delete(id)
	return nil
}
