// Package streamcache stores resolved stream locations per video so repeated
// playback requests do not repeat the upstream extraction step.
package streamcache

import (
	"context"
	"time"

	"github.com/vidfriends/streamgate/internal/models"
)

// Entry is one cached resolution. Entries are replaced whole, never patched.
type Entry struct {
	VideoID    string            `json:"videoId"`
	Resolution models.Resolution `json:"resolution"`
	ResolvedAt time.Time         `json:"resolvedAt"`
	ExpiresAt  time.Time         `json:"expiresAt"`
}

// Remaining reports how long the entry stays fresh relative to now.
func (e Entry) Remaining(now time.Time) time.Duration {
	if !now.Before(e.ExpiresAt) {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}

// Fresh reports whether the entry can still be served at now.
func (e Entry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Cache maps video IDs to resolutions. Expired entries behave exactly like
// absent ones. Concurrent Puts for one key are last-writer-wins.
type Cache interface {
	Get(ctx context.Context, videoID string) (Entry, bool)
	Put(ctx context.Context, videoID string, resolution models.Resolution, ttl time.Duration) Entry
	Delete(ctx context.Context, videoID string)
}
