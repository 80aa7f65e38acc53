package streamcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vidfriends/streamgate/internal/models"
)

const (
	defaultKeyPrefix = "streamgate:resolution:"
	redisOpTimeout   = 2 * time.Second
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Redis is a Cache backed by Redis. Entries expire with their key; errors are
// logged and reported as misses since every entry can be re-resolved.
type Redis struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisFromClient(client, cfg.KeyPrefix, logger, nil), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, prefix string, logger *slog.Logger, now func() time.Time) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Redis{client: client, prefix: prefix, logger: logger, now: now}
}

func (r *Redis) key(videoID string) string {
	return r.prefix + videoID
}

// Get loads and decodes the entry for videoID.
func (r *Redis) Get(ctx context.Context, videoID string) (Entry, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.key(videoID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false
	}
	if err != nil {
		r.logger.Warn("redis get failed", "videoId", videoID, "error", err)
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		r.logger.Warn("decode cached resolution", "videoId", videoID, "error", err)
		return Entry{}, false
	}
	if !entry.Fresh(r.now()) {
		return Entry{}, false
	}
	return entry, true
}

// Put stores a resolution with ttl as the key expiry.
func (r *Redis) Put(ctx context.Context, videoID string, resolution models.Resolution, ttl time.Duration) Entry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := r.now()
	entry := Entry{
		VideoID:    videoID,
		Resolution: resolution,
		ResolvedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	r.store(ctx, entry)
	return entry
}

func (r *Redis) store(ctx context.Context, entry Entry) {
	ttl := entry.Remaining(r.now())
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		r.logger.Warn("encode resolution", "videoId", entry.VideoID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := r.client.Set(ctx, r.key(entry.VideoID), data, ttl).Err(); err != nil {
		r.logger.Warn("redis set failed", "videoId", entry.VideoID, "error", err)
	}
}

// Delete removes the entry for videoID.
func (r *Redis) Delete(ctx context.Context, videoID string) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := r.client.Del(ctx, r.key(videoID)).Err(); err != nil {
		r.logger.Warn("redis delete failed", "videoId", videoID, "error", err)
	}
}

// HealthCheck pings the server.
func (r *Redis) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Cache = (*Redis)(nil)
