package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/gustycube/skywatch/internal/clock"
	"github.com/gustycube/skywatch/internal/logging"
	"github.com/gustycube/skywatch/internal/metrics"
	"github.com/gustycube/skywatch/internal/registry"
)

const DefaultInterval = 30 * time.Second

// Janitor periodically evicts expired targets. It is the only path that
// removes targets from the registry.
type Janitor struct {
	reg      *registry.Registry
	clock    clock.Clock
	interval time.Duration
	log      *logging.Logger
	onEvict  func(ids []string)

	mu      sync.Mutex
	lastRun time.Time
}

func New(reg *registry.Registry, c clock.Clock, interval time.Duration, log *logging.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if c == nil {
		c = clock.Real{}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Janitor{reg: reg, clock: c, interval: interval, log: log}
}

// OnEvict registers a callback invoked with the ids removed by each sweep.
func (j *Janitor) OnEvict(fn func(ids []string)) { j.onEvict = fn }

func (j *Janitor) Interval() time.Duration { return j.interval }

// Run sweeps on every tick until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	t := time.NewTicker(j.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			j.SweepOnce()
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce runs a single eviction pass.
func (j *Janitor) SweepOnce() registry.SweepResult {
	now := j.clock.Now()
	res := j.reg.Sweep(now)

	j.mu.Lock()
	j.lastRun = now
	j.mu.Unlock()

	stats := j.reg.Stats()
	metrics.TargetsActive.Set(float64(stats.Targets))
	if n := len(res.Evicted); n > 0 {
		metrics.EvictionsTotal.Add(float64(n))
		j.log.Infow("evicted expired targets", "count", n, "remaining", stats.Targets)
		if j.onEvict != nil {
			j.onEvict(res.Evicted)
		}
	}
	if res.RepliesPruned > 0 || res.FingerprintsPruned > 0 {
		j.log.Debugw("pruned indexes", "replies", res.RepliesPruned, "fingerprints", res.FingerprintsPruned)
	}
	return res
}

// LastRun reports when the last sweep happened.
func (j *Janitor) LastRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun
}
