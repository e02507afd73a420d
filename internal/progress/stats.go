// Package progress keeps operator-facing ingest counters for periodic
// log lines and the shutdown summary.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/gustycube/skywatch/internal/tracker"
)

const DefaultLogInterval = time.Minute

// Counts is a point-in-time copy of the counters.
type Counts struct {
	Processed  int64
	Created    int64
	Updated    int64
	Duplicates int64
	Dropped    int64
	Failed     int64
}

// Stats tallies message outcomes.
type Stats struct {
	mu          sync.Mutex
	counts      Counts
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	now         func() time.Time
}

func NewStats(logInterval time.Duration) *Stats {
	if logInterval <= 0 {
		logInterval = DefaultLogInterval
	}
	s := &Stats{logInterval: logInterval, now: time.Now}
	s.startTime = s.now()
	s.lastLogTime = s.startTime
	return s
}

// Record counts one message. err marks a failure regardless of outcome.
func (s *Stats) Record(res tracker.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.Processed++
	if err != nil {
		s.counts.Failed++
		return
	}
	switch res.Outcome {
	case tracker.OutcomeCreated:
		s.counts.Created++
	case tracker.OutcomeUpdated:
		s.counts.Updated++
	case tracker.OutcomeDuplicate:
		s.counts.Duplicates++
	case tracker.OutcomeDropped:
		s.counts.Dropped++
	}
}

func (s *Stats) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

// ShouldLog returns true if it's time to log progress
func (s *Stats) ShouldLog() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastLogTime) >= s.logInterval
}

// LogAndReset formats the current counters and restarts the log timer.
func (s *Stats) LogAndReset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLogTime = s.now()
	c := s.counts
	return fmt.Sprintf("Progress: %d processed, %d created, %d updated, %d duplicates, %d dropped, %d failed, %.1f msgs/min",
		c.Processed, c.Created, c.Updated, c.Duplicates, c.Dropped, c.Failed, s.rateLocked())
}

// Summary returns a final summary
func (s *Stats) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counts
	return fmt.Sprintf("Final summary: %d messages in %v, %d targets created, %d updates, %d duplicates, %d dropped, %d failed",
		c.Processed, s.now().Sub(s.startTime).Round(time.Second), c.Created, c.Updated, c.Duplicates, c.Dropped, c.Failed)
}

func (s *Stats) rateLocked() float64 {
	mins := s.now().Sub(s.startTime).Minutes()
	if mins <= 0 {
		return 0
	}
	return float64(s.counts.Processed) / mins
}
