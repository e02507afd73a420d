package emit

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gustycube/skywatch/internal/clock"
	"github.com/gustycube/skywatch/internal/logging"
	"github.com/gustycube/skywatch/internal/metrics"
	"github.com/gustycube/skywatch/internal/types"
)

const (
	DefaultSchedule    = "@every 30s"
	DefaultSyncTimeout = 20 * time.Second
)

// Source is the registry side of a sync: a versioned snapshot plus the
// dirty flag that gates it.
type Source interface {
	Snapshot(now time.Time) ([]types.Target, uint64)
	Dirty() bool
	MarkSynced(version uint64)
}

// Syncer flushes dirty registry state to a Gateway on a cron schedule and
// on demand. Persistence runs outside the registry lock; a failed flush
// leaves the registry dirty so the next cycle retries.
type Syncer struct {
	src      Source
	gw       Gateway
	clock    clock.Clock
	schedule string
	timeout  time.Duration
	log      *logging.Logger

	kick chan struct{}

	mu       sync.Mutex // serializes flushes
	lastSync time.Time
	lastErr  error
}

func NewSyncer(src Source, gw Gateway, c clock.Clock, schedule string, log *logging.Logger) *Syncer {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if c == nil {
		c = clock.Real{}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Syncer{
		src:      src,
		gw:       gw,
		clock:    c,
		schedule: schedule,
		timeout:  DefaultSyncTimeout,
		log:      log,
		kick:     make(chan struct{}, 1),
	}
}

// Notify requests an early flush without blocking the caller.
func (s *Syncer) Notify() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run flushes on schedule and on Notify until ctx is done, then performs a
// final flush.
func (s *Syncer) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.flushWithTimeout(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.log.Infow("sync scheduler started", "schedule", s.schedule)

	for {
		select {
		case <-s.kick:
			s.flushWithTimeout(ctx)
		case <-ctx.Done():
			<-c.Stop().Done()
			final, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()
			if err := s.Flush(final); err != nil {
				s.log.Warnw("final sync failed", "err", err)
			}
			return nil
		}
	}
}

func (s *Syncer) flushWithTimeout(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()
	_ = s.Flush(ctx)
}

// Flush persists the current snapshot if the registry is dirty.
func (s *Syncer) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.src.Dirty() {
		return nil
	}
	now := s.clock.Now()
	targets, version := s.src.Snapshot(now)
	records := FromTargets(targets)

	start := time.Now()
	err := s.gw.Persist(ctx, records)
	s.lastErr = err
	if err != nil {
		metrics.SyncTotal.WithLabelValues("error").Inc()
		s.log.Warnw("sync failed, will retry next cycle", "targets", len(records), "version", version, "err", err)
		return err
	}
	s.src.MarkSynced(version)
	s.lastSync = now
	metrics.SyncTotal.WithLabelValues("ok").Inc()
	s.log.Infow("snapshot synced", "targets", len(records), "version", version, "took", time.Since(start))
	return nil
}

// Status reports the last successful sync time and the last error.
func (s *Syncer) Status() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync, s.lastErr
}
