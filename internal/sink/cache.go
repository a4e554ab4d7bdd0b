package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chaz8081/sensor-gateway/internal/reading"
)

// Setter is the part of *redis.Client the cache uses.
type Setter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// ConnectRedis creates a client for addr and pings it.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("sink: redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// LastValueCache writes each field of a successfully stored reading to
// <prefix><field> with a TTL, so dashboards can read the current value
// without querying the time-series store. Cache failures are logged and
// never fail the write.
type LastValueCache struct {
	next   Sink
	cache  Setter
	prefix string
	ttl    time.Duration
	close  func() error
}

// NewLastValueCache decorates next. closeFn runs on Close after next is
// closed; it may be nil.
func NewLastValueCache(next Sink, cache Setter, prefix string, ttl time.Duration, closeFn func() error) *LastValueCache {
	return &LastValueCache{next: next, cache: cache, prefix: prefix, ttl: ttl, close: closeFn}
}

func (c *LastValueCache) Name() string { return c.next.Name() }

func (c *LastValueCache) Write(ctx context.Context, r reading.Reading) error {
	if err := c.next.Write(ctx, r); err != nil {
		return err
	}
	for _, name := range r.FieldNames() {
		v, _ := r.Field(name)
		if err := c.cache.Set(ctx, c.prefix+name, v, c.ttl).Err(); err != nil {
			slog.Warn("[SINK] last-value cache update failed", "key", c.prefix+name, "error", err)
			continue
		}
	}
	return nil
}

// Health delegates to the wrapped backend.
func (c *LastValueCache) Health(ctx context.Context) error {
	if hc, ok := c.next.(HealthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}

func (c *LastValueCache) Close() error {
	err := c.next.Close()
	if c.close != nil {
		if cerr := c.close(); err == nil {
			err = cerr
		}
	}
	return err
}

var (
	_ Sink          = (*LastValueCache)(nil)
	_ HealthChecker = (*LastValueCache)(nil)
)
