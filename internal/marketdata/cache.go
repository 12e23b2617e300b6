package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"td9scan/internal/model"
)

// Cached is a read-through bar cache in front of another Source. Bars
// for a (symbol, interval, limit) window are served from Redis while
// the TTL holds, which keeps repeated force-rescans off the exchange.
// Spot prices are never cached. Cache failures degrade to the upstream
// source; they are logged, not propagated.
type Cached struct {
	src Source
	rdb *goredis.Client
	ttl time.Duration

	// OnHit and OnMiss, when set, are called per Bars lookup.
	OnHit  func()
	OnMiss func()
}

// NewCached wraps src with a Redis bar cache. A nil client disables
// caching entirely.
func NewCached(src Source, rdb *goredis.Client, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{src: src, rdb: rdb, ttl: ttl}
}

// Bars implements Source.
func (c *Cached) Bars(ctx context.Context, symbol, interval string, limit int) ([]model.Bar, error) {
	if c.rdb == nil {
		return c.src.Bars(ctx, symbol, interval, limit)
	}

	key := fmt.Sprintf("bars:%s:%s:%d", apiSymbol(symbol), interval, limit)
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var bars []model.Bar
		if json.Unmarshal(raw, &bars) == nil && len(bars) >= MinBars {
			if c.OnHit != nil {
				c.OnHit()
			}
			return bars, nil
		}
		// Corrupt entry: drop it and fall through to the upstream.
		c.rdb.Del(ctx, key)
	}
	if c.OnMiss != nil {
		c.OnMiss()
	}

	bars, err := c.src.Bars(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(bars); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			slog.Warn("bar cache write failed", "key", key, "err", err)
		}
	}
	return bars, nil
}

// Spot implements Source by delegating to the upstream; spot prices are
// too short-lived to cache.
func (c *Cached) Spot(ctx context.Context, symbol string) (float64, error) {
	return c.src.Spot(ctx, symbol)
}
