package enrich

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	loc     Location
	expires time.Time
}

// CachedResolver wraps another resolver with a short-horizon per-IP cache.
// Concurrent lookups for the same IP collapse into a single upstream call.
// Failed lookups are cached as empty results so a dead upstream is not
// hammered once per log line.
type CachedResolver struct {
	inner Resolver
	ttl   time.Duration

	entries sync.Map
	group   singleflight.Group
}

func NewCachedResolver(inner Resolver, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &CachedResolver{inner: inner, ttl: ttl}
}

func (c *CachedResolver) Resolve(ctx context.Context, ip string) (Location, error) {
	now := time.Now()
	if raw, ok := c.entries.Load(ip); ok {
		entry := raw.(cacheEntry)
		if now.Before(entry.expires) {
			return entry.loc, nil
		}
	}

	result, err, _ := c.group.Do(ip, func() (interface{}, error) {
		loc, err := c.inner.Resolve(ctx, ip)
		if err != nil {
			loc = Location{}
		}
		c.entries.Store(ip, cacheEntry{loc: loc, expires: time.Now().Add(c.ttl)})
		return loc, nil
	})
	if err != nil {
		return Location{}, nil
	}
	return result.(Location), nil
}

// Close releases the wrapped resolver's resources, if it holds any.
func (c *CachedResolver) Close() error {
	if closer, ok := c.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
