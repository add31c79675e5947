package stats

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRecorder increments one hash per source, {prefix}:source:{name}, and a
// cumulative {prefix}:total hash.
type RedisRecorder struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisOption func(*RedisRecorder)

func WithPrefix(prefix string) RedisOption {
	return func(r *RedisRecorder) {
		if p := strings.Trim(prefix, ":"); p != "" {
			r.prefix = p
		}
	}
}

// WithTTL expires the per-source hashes; the total never expires.
func WithTTL(d time.Duration) RedisOption {
	return func(r *RedisRecorder) { r.ttl = d }
}

func NewRedisRecorder(rdb *redis.Client, opts ...RedisOption) *RedisRecorder {
	r := &RedisRecorder{rdb: rdb, prefix: "benefits:stats"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisRecorder) TTL() time.Duration { return r.ttl }

func (r *RedisRecorder) SourceKey(source string) string {
	return r.prefix + ":source:" + strings.ToLower(strings.TrimSpace(source))
}

func (r *RedisRecorder) Record(ctx context.Context, ev RunEvent) error {
	if r == nil || r.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	key := r.SourceKey(ev.Source)
	totalKey := r.prefix + ":total"

	pipe := r.rdb.Pipeline()
	for field, n := range counts(ev) {
		pipe.HIncrBy(ctx, key, field, n)
		pipe.HIncrBy(ctx, totalKey, field, n)
	}
	pipe.HSet(ctx, key, "last_status", ev.Status, "last_run_at", at.UTC().Format(time.RFC3339))
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Close releases the underlying client.
func (r *RedisRecorder) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

func counts(ev RunEvent) map[string]int64 {
	failed := int64(0)
	if ev.Status == "failed" {
		failed = 1
	}
	return map[string]int64{
		"runs":          1,
		"failed":        failed,
		"collected":     int64(ev.Collected),
		"normalized":    int64(ev.Normalized),
		"skipped":       int64(ev.Skipped),
		"persisted":     int64(ev.Persisted),
		"page_failures": int64(ev.PageFailures),
	}
}
