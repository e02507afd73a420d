package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const idleAfter = time.Hour

// Keyed holds one token bucket per upstream key.
type Keyed struct {
	mu         sync.Mutex
	m          map[string]*limitEntry
	perSecond  float64
	burst      int
	maxEntries int
}

type limitEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

func New(perSecond float64, burst int) *Keyed {
	if burst < 1 {
		burst = 1
	}
	return &Keyed{
		m:          make(map[string]*limitEntry),
		perSecond:  perSecond,
		burst:      burst,
		maxEntries: 1024,
	}
}

func (k *Keyed) get(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := time.Now()
	e, ok := k.m[key]
	if !ok {
		if len(k.m) >= k.maxEntries {
			k.pruneLocked(now)
		}
		e = &limitEntry{limiter: rate.NewLimiter(rate.Limit(k.perSecond), k.burst)}
		k.m[key] = e
	}
	e.lastUsed = now
	return e.limiter
}

func (k *Keyed) pruneLocked(now time.Time) {
	cutoff := now.Add(-idleAfter)
	for key, e := range k.m {
		if e.lastUsed.Before(cutoff) {
			delete(k.m, key)
		}
	}
}

func (k *Keyed) Allow(key string) bool {
	return k.get(key).Allow()
}

// Wait blocks until key may proceed or ctx is done.
func (k *Keyed) Wait(ctx context.Context, key string) error {
	return k.get(key).Wait(ctx)
}

func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.m)
}
