package streamcache

import (
	"context"
	"time"

	"github.com/vidfriends/streamgate/internal/models"
)

// Tiered serves from process memory first and falls back to a shared Redis
// store, back-filling memory with the entry's original expiry.
type Tiered struct {
	front *Memory
	back  *Redis
}

// NewTiered layers front over back.
func NewTiered(front *Memory, back *Redis) *Tiered {
	return &Tiered{front: front, back: back}
}

// Get checks memory, then Redis.
func (t *Tiered) Get(ctx context.Context, videoID string) (Entry, bool) {
	if entry, ok := t.front.Get(ctx, videoID); ok {
		return entry, true
	}
	entry, ok := t.back.Get(ctx, videoID)
	if !ok {
		return Entry{}, false
	}
	t.front.store(entry)
	return entry, true
}

// Put writes the same entry to both tiers.
func (t *Tiered) Put(ctx context.Context, videoID string, resolution models.Resolution, ttl time.Duration) Entry {
	entry := t.front.Put(ctx, videoID, resolution, ttl)
	t.back.store(ctx, entry)
	return entry
}

// Delete removes the entry from both tiers.
func (t *Tiered) Delete(ctx context.Context, videoID string) {
	t.front.Delete(ctx, videoID)
	t.back.Delete(ctx, videoID)
}

var _ Cache = (*Tiered)(nil)
