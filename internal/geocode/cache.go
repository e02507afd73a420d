package geocode

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gustycube/skywatch/internal/types"
)

type cacheEntry struct {
	res   Result
	found bool
}

// Cached memoizes lookups, including misses, for a fixed TTL. Transient
// errors are not cached.
type Cached struct {
	next Geocoder
	lru  *expirable.LRU[string, cacheEntry]
}

func NewCached(next Geocoder, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cached{next: next, lru: expirable.NewLRU[string, cacheEntry](size, nil, ttl)}
}

func (c *Cached) Geocode(ctx context.Context, name string) (Result, error) {
	key := normalize(name)
	if e, ok := c.lru.Get(key); ok {
		if !e.found {
			return Result{}, ErrNotFound
		}
		return e.res, nil
	}
	res, err := c.next.Geocode(ctx, name)
	switch {
	case err == nil:
		c.lru.Add(key, cacheEntry{res: res, found: true})
	case errors.Is(err, ErrNotFound):
		c.lru.Add(key, cacheEntry{})
	}
	return res, err
}

func (c *Cached) Len() int { return c.lru.Len() }

func pointOf(lat, lng float64) types.Point { return types.Point{Lat: lat, Lng: lng} }
