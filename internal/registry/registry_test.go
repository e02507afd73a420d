package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gustycube/skywatch/internal/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func target(id string, ttl time.Duration) types.Target {
	return types.Target{
		ID:        id,
		Category:  types.CategoryDrone,
		Status:    types.StatusDetected,
		CreatedAt: t0,
		UpdatedAt: t0,
		ExpireAt:  t0.Add(ttl),
	}
}

func TestInsert_RejectsPastExpiry(t *testing.T) {
	r := New(time.Minute)
	err := r.Update(t0, func(tx *Tx) error {
		return tx.Insert(target("a", 0))
	})
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if r.Stats().Targets != 0 {
		t.Error("expected nothing stored")
	}
	if r.Dirty() {
		t.Error("expected registry to stay clean after a rejected insert")
	}
}

func TestInsert_Duplicate(t *testing.T) {
	r := New(time.Minute)
	_ = r.Update(t0, func(tx *Tx) error { return tx.Insert(target("a", time.Minute)) })
	err := r.Update(t0, func(tx *Tx) error { return tx.Insert(target("a", time.Minute)) })
	if !errors.Is(err, ErrDuplicateTarget) {
		t.Fatalf("expected ErrDuplicateTarget, got %v", err)
	}
}

func TestSave_UnknownTarget(t *testing.T) {
	r := New(time.Minute)
	err := r.Update(t0, func(tx *Tx) error { return tx.Save(target("ghost", time.Minute)) })
	if !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
}

func TestTx_CopiesDoNotAlias(t *testing.T) {
	r := New(time.Minute)
	_ = r.Update(t0, func(tx *Tx) error { return tx.Insert(target("a", time.Minute)) })

	_ = r.Update(t0, func(tx *Tx) error {
		got, _ := tx.Get("a")
		got.Status = types.StatusLost
		if got.Status != types.StatusLost {
			t.Fatal("expected local copy to change")
		}
		return nil
	})

	if got := r.ListActive(t0)[0].Status; got != types.StatusDetected {
		t.Errorf("expected stored status untouched without Save, got %s", got)
	}
}

func TestListActive_HidesExpired(t *testing.T) {
	r := New(time.Minute)
	_ = r.Update(t0, func(tx *Tx) error {
		if err := tx.Insert(target("short", time.Minute)); err != nil {
			return err
		}
		return tx.Insert(target("long", time.Hour))
	})

	active := r.ListActive(t0.Add(2 * time.Minute))
	if len(active) != 1 || active[0].ID != "long" {
		t.Fatalf("expected only 'long' to be active, got %v", active)
	}
	// not swept yet
	if r.Stats().Targets != 2 {
		t.Errorf("expected both targets still stored before sweep, got %d", r.Stats().Targets)
	}
}

func TestByReply_DanglingIsAbsent(t *testing.T) {
	r := New(time.Minute)
	_ = r.Update(t0, func(tx *Tx) error {
		if err := tx.Insert(target("a", time.Minute)); err != nil {
			return err
		}
		return tx.Link(1, "a")
	})
	r.Sweep(t0.Add(time.Hour))

	_ = r.Update(t0.Add(time.Hour), func(tx *Tx) error {
		if _, ok := tx.ByReply(1); ok {
			t.Error("expected reply to an evicted target to be absent")
		}
		return nil
	})
}

func TestByReply_ExpiredIsAbsent(t *testing.T) {
	r := New(time.Minute)
	_ = r.Update(t0, func(tx *Tx) error {
		if err := tx.Insert(target("a", time.Minute)); err != nil {
			return err
		}
		return tx.Link(1, "a")
	})

	// Expired but still stored: the sweep has not run.
	_ = r.Update(t0.Add(2*time.Minute), func(tx *Tx) error {
		if _, ok := tx.ByReply(1); ok {
			t.Error("expected reply to an expired target to be absent")
		}
		return nil
	})
	if r.Stats().Targets != 1 {
		t.Errorf("expected target still stored, got %d", r.Stats().Targets)
	}
}

func TestSweep_EvictsAndPrunesIndexes(t *testing.T) {
	r := New(10 * time.Minute)
	r.Accept("Шахед на Богодухів", t0)

	_ = r.Update(t0, func(tx *Tx) error {
		for _, tt := range []types.Target{target("a", time.Minute), target("b", time.Hour)} {
			if err := tx.Insert(tt); err != nil {
				return err
			}
		}
		for msg, id := range map[int64]string{1: "a", 2: "a", 3: "b"} {
			if err := tx.Link(msg, id); err != nil {
				return err
			}
		}
		return nil
	})
	r.MarkSynced(1)

	res := r.Sweep(t0.Add(11 * time.Minute))
	if len(res.Evicted) != 1 || res.Evicted[0] != "a" {
		t.Errorf("expected only 'a' evicted, got %v", res.Evicted)
	}
	if res.RepliesPruned != 2 {
		t.Errorf("expected 2 replies pruned, got %d", res.RepliesPruned)
	}
	if res.FingerprintsPruned != 1 {
		t.Errorf("expected 1 fingerprint pruned, got %d", res.FingerprintsPruned)
	}
	if s := r.Stats(); s.Targets != 1 || s.Replies != 1 || s.Fingerprints != 0 {
		t.Errorf("unexpected stats after sweep: %+v", s)
	}
	if !r.Dirty() {
		t.Error("expected eviction to mark the registry dirty")
	}

	// no reply entry may still point at the evicted id
	for msg, id := range r.replies {
		if id == "a" {
			t.Errorf("reply %d still maps to evicted target", msg)
		}
	}
}

func TestSweep_ExpiryBoundary(t *testing.T) {
	r := New(time.Minute)
	_ = r.Update(t0, func(tx *Tx) error { return tx.Insert(target("a", time.Minute)) })

	if res := r.Sweep(t0.Add(time.Minute - time.Nanosecond)); len(res.Evicted) != 0 {
		t.Error("expected no eviction before expire_at")
	}
	if res := r.Sweep(t0.Add(time.Minute)); len(res.Evicted) != 1 {
		t.Error("expected eviction at expire_at")
	}
}

func TestDirtyTracking(t *testing.T) {
	r := New(time.Minute)
	if r.Dirty() {
		t.Fatal("expected new registry to be clean")
	}
	_ = r.Update(t0, func(tx *Tx) error { return tx.Insert(target("a", time.Minute)) })
	_, v := r.Snapshot(t0)
	if !r.Dirty() {
		t.Fatal("expected insert to mark dirty")
	}

	// a mutation after the snapshot keeps the registry dirty
	_ = r.Update(t0, func(tx *Tx) error { return tx.Insert(target("b", time.Minute)) })
	r.MarkSynced(v)
	if !r.Dirty() {
		t.Error("expected later mutation to keep registry dirty")
	}

	_, v = r.Snapshot(t0)
	r.MarkSynced(v)
	if r.Dirty() {
		t.Error("expected registry clean after syncing latest version")
	}
}

func TestClear(t *testing.T) {
	r := New(time.Minute)
	_ = r.Update(t0, func(tx *Tx) error {
		_ = tx.Insert(target("a", time.Minute))
		return tx.Link(7, "a")
	})
	if n := r.Clear(); n != 1 {
		t.Errorf("expected 1 cleared, got %d", n)
	}
	if s := r.Stats(); s.Targets != 0 || s.Replies != 0 {
		t.Errorf("expected empty registry, got %+v", s)
	}
}

func TestConcurrentUpdateAndSweep(t *testing.T) {
	r := New(time.Minute)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			id := fmt.Sprintf("t%d", i)
			_ = r.Update(t0, func(tx *Tx) error {
				if err := tx.Insert(target(id, time.Duration(i%3+1)*time.Second)); err != nil {
					return err
				}
				return tx.Link(int64(i+1), id)
			})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r.Sweep(t0.Add(2 * time.Second))
			_ = r.ListActive(t0)
		}
	}()
	wg.Wait()

	r.Sweep(t0.Add(time.Hour))
	if s := r.Stats(); s.Targets != 0 || s.Replies != 0 {
		t.Errorf("expected everything evicted, got %+v", s)
	}
}
