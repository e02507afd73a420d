// Package registry holds the authoritative set of tracked targets together
// with the reply index and the dedup index. Every mutation is serialized by
// one lock; nothing outside this package touches the maps.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gustycube/skywatch/internal/dedup"
	"github.com/gustycube/skywatch/internal/types"
)

var (
	// ErrExpired is returned when a target would be stored with an expiry
	// that is not in the future.
	ErrExpired = errors.New("target expiry is not in the future")
	// ErrUnknownTarget is returned when saving or linking a target id the
	// registry does not hold.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrDuplicateTarget is returned when inserting an id that already exists.
	ErrDuplicateTarget = errors.New("target already exists")
)

// Registry is the shared mutable state of the tracker.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]*types.Target
	replies map[int64]string // message id -> target id, weak
	seen    *dedup.Window

	version uint64 // bumped by every mutation of targets
	synced  uint64 // last version handed to a successful sync
}

// New returns an empty registry whose dedup index uses the given window.
func New(window time.Duration) *Registry {
	return &Registry{
		targets: make(map[string]*types.Target),
		replies: make(map[int64]string),
		seen:    dedup.NewWindow(window),
	}
}

// Accept is the dedup gate for inbound text.
func (r *Registry) Accept(text string, now time.Time) bool {
	fp := dedup.Fingerprint(text)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen.Accept(fp, now)
}

// Update runs fn with exclusive access. Resolution and mutation for one
// message happen inside a single Update so the janitor cannot interleave.
func (r *Registry) Update(now time.Time, fn func(tx *Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &Tx{r: r, now: now}
	err := fn(tx)
	if tx.dirty {
		r.version++
	}
	return err
}

// ListActive returns copies of every target still alive at now, oldest
// first. Expired targets are hidden even if the janitor has not run yet.
func (r *Registry) ListActive(now time.Time) []types.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked(now)
}

// Snapshot returns the active set together with the version it reflects.
func (r *Registry) Snapshot(now time.Time) ([]types.Target, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked(now), r.version
}

// Dirty reports whether targets changed since the last successful sync.
func (r *Registry) Dirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version != r.synced
}

// MarkSynced records that version has been persisted.
func (r *Registry) MarkSynced(version uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if version > r.synced {
		r.synced = version
	}
}

func (r *Registry) activeLocked(now time.Time) []types.Target {
	out := make([]types.Target, 0, len(r.targets))
	for _, t := range r.targets {
		if t.Expired(now) {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SweepResult counts what one janitor pass removed.
type SweepResult struct {
	Evicted            []string
	RepliesPruned      int
	FingerprintsPruned int
}

// Sweep evicts expired targets, then reply entries pointing at missing
// targets, then stale fingerprints. It is the only path that shrinks the
// target set during normal operation.
func (r *Registry) Sweep(now time.Time) SweepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res SweepResult
	for id, t := range r.targets {
		if t.Expired(now) {
			delete(r.targets, id)
			res.Evicted = append(res.Evicted, id)
		}
	}
	for msg, id := range r.replies {
		if _, ok := r.targets[id]; !ok {
			delete(r.replies, msg)
			res.RepliesPruned++
		}
	}
	res.FingerprintsPruned = r.seen.Prune(now)

	if len(res.Evicted) > 0 {
		sort.Strings(res.Evicted)
		r.version++
	}
	return res
}

// Clear drops every target and reply link. Administrative reset only; the
// dedup index is left alone.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.targets)
	r.targets = make(map[string]*types.Target)
	r.replies = make(map[int64]string)
	r.version++
	return n
}

// Stats is a point-in-time size report.
type Stats struct {
	Targets      int
	Replies      int
	Fingerprints int
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Targets: len(r.targets), Replies: len(r.replies), Fingerprints: r.seen.Len()}
}

// Tx is the view handed to Update callbacks. It must not escape fn.
type Tx struct {
	r     *Registry
	now   time.Time
	dirty bool
}

// Now is the instant the transaction is evaluated at.
func (tx *Tx) Now() time.Time { return tx.now }

// Get returns a copy of the target with id.
func (tx *Tx) Get(id string) (types.Target, bool) {
	t, ok := tx.r.targets[id]
	if !ok {
		return types.Target{}, false
	}
	return t.Clone(), true
}

// ByReply follows the reply index. A link whose target is gone or already
// expired is treated as absent.
func (tx *Tx) ByReply(messageID int64) (types.Target, bool) {
	if messageID == 0 {
		return types.Target{}, false
	}
	id, ok := tx.r.replies[messageID]
	if !ok {
		return types.Target{}, false
	}
	t, ok := tx.r.targets[id]
	if !ok || t.Expired(tx.now) {
		return types.Target{}, false
	}
	return t.Clone(), true
}

// Live returns copies of the targets not yet expired, ordered by id.
func (tx *Tx) Live() []types.Target {
	out := make([]types.Target, 0, len(tx.r.targets))
	for _, t := range tx.r.targets {
		if !t.Expired(tx.now) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Insert stores a new target.
func (tx *Tx) Insert(t types.Target) error {
	if _, ok := tx.r.targets[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTarget, t.ID)
	}
	if t.Expired(tx.now) {
		return fmt.Errorf("%w: %s expires %s", ErrExpired, t.ID, t.ExpireAt.Format(time.RFC3339))
	}
	c := t.Clone()
	tx.r.targets[t.ID] = &c
	tx.dirty = true
	return nil
}

// Save replaces an existing target with t.
func (tx *Tx) Save(t types.Target) error {
	if _, ok := tx.r.targets[t.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, t.ID)
	}
	if t.Expired(tx.now) {
		return fmt.Errorf("%w: %s expires %s", ErrExpired, t.ID, t.ExpireAt.Format(time.RFC3339))
	}
	c := t.Clone()
	tx.r.targets[t.ID] = &c
	tx.dirty = true
	return nil
}

// Link attributes messageID to targetID for later reply lookups.
func (tx *Tx) Link(messageID int64, targetID string) error {
	if messageID == 0 {
		return nil
	}
	if _, ok := tx.r.targets[targetID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, targetID)
	}
	tx.r.replies[messageID] = targetID
	return nil
}
