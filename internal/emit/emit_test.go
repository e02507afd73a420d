package emit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gustycube/skywatch/internal/clock"
	"github.com/gustycube/skywatch/internal/registry"
	"github.com/gustycube/skywatch/internal/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func drone(id string) types.Target {
	t := types.Target{
		ID:        id,
		Category:  types.CategoryDrone,
		Status:    types.StatusDetected,
		Location:  &types.Location{Name: "Богодухів", Point: &types.Point{Lat: 50.1653, Lng: 35.5274}},
		CreatedAt: t0,
		UpdatedAt: t0,
		ExpireAt:  t0.Add(45 * time.Minute),
	}
	t.RefreshLabel()
	return t
}

func TestFromTarget(t *testing.T) {
	r := FromTarget(drone("a"))
	if r.Type != "drone" || r.Lat != 50.1653 || r.Lng != 35.5274 || r.Label != "drone · Богодухів" {
		t.Errorf("unexpected HUD fields %+v", r)
	}
	if r.Location == nil || r.Location.Name != "Богодухів" {
		t.Errorf("unexpected location %+v", r.Location)
	}
	if r.History == nil {
		t.Error("history should encode as an empty array")
	}

	b, _ := json.Marshal(r)
	for _, key := range []string{`"id":"a"`, `"type":"drone"`, `"expire_at"`, `"history":[]`} {
		if !strings.Contains(string(b), key) {
			t.Errorf("expected %s in %s", key, b)
		}
	}
}

func TestMulti_AttemptsAll(t *testing.T) {
	var calls int
	ok := GatewayFunc(func(ctx context.Context, r []Record) error { calls++; return nil })
	bad := GatewayFunc(func(ctx context.Context, r []Record) error { calls++; return errors.New("disk full") })

	err := Multi{{"file", bad}, {"bolt", ok}, {"sqlite", bad}}.Persist(context.Background(), nil)
	if calls != 3 {
		t.Errorf("expected all gateways called, got %d", calls)
	}
	if err == nil || !strings.Contains(err.Error(), "file: disk full") || !strings.Contains(err.Error(), "sqlite: disk full") {
		t.Errorf("unexpected error %v", err)
	}
	if err := (Multi{{"bolt", ok}}).Persist(context.Background(), nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func seeded(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New(time.Minute)
	if err := r.Update(t0, func(tx *registry.Tx) error { return tx.Insert(drone("a")) }); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSyncer_FlushOnlyWhenDirty(t *testing.T) {
	reg := seeded(t)
	var got [][]Record
	gw := GatewayFunc(func(ctx context.Context, r []Record) error { got = append(got, r); return nil })
	s := NewSyncer(reg, gw, clock.NewManual(t0), "", nil)

	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || len(got[0]) != 1 || got[0][0].ID != "a" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if reg.Dirty() {
		t.Error("expected registry clean after sync")
	}

	_ = s.Flush(context.Background())
	if len(got) != 1 {
		t.Errorf("expected clean registry to skip persistence, got %d calls", len(got))
	}
	last, err := s.Status()
	if !last.Equal(t0) || err != nil {
		t.Errorf("unexpected status %s %v", last, err)
	}
}

func TestSyncer_FailureRetriesNextCycle(t *testing.T) {
	reg := seeded(t)
	fail := true
	gw := GatewayFunc(func(ctx context.Context, r []Record) error {
		if fail {
			return errors.New("unreachable")
		}
		return nil
	})
	s := NewSyncer(reg, gw, clock.NewManual(t0), "", nil)

	if err := s.Flush(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !reg.Dirty() {
		t.Fatal("expected registry still dirty after failed sync")
	}
	fail = false
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if reg.Dirty() {
		t.Error("expected clean after retry")
	}
}

func TestSyncer_ChangeDuringPersistStaysDirty(t *testing.T) {
	reg := seeded(t)
	gw := GatewayFunc(func(ctx context.Context, r []Record) error {
		return reg.Update(t0, func(tx *registry.Tx) error { return tx.Insert(drone("b")) })
	})
	s := NewSyncer(reg, gw, clock.NewManual(t0), "", nil)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !reg.Dirty() {
		t.Error("a write that raced the sync must leave the registry dirty")
	}
}

func TestSyncer_RunNotifyAndFinalFlush(t *testing.T) {
	reg := seeded(t)
	var calls int32
	gw := GatewayFunc(func(ctx context.Context, r []Record) error { atomic.AddInt32(&calls, 1); return nil })
	s := NewSyncer(reg, gw, clock.NewManual(t0), "@every 1h", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Notify()
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected notify to flush, got %d", calls)
	}

	_ = reg.Update(t0, func(tx *registry.Tx) error { return tx.Insert(drone("b")) })
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected final flush on shutdown, got %d calls", calls)
	}
}

func TestSyncer_BadSchedule(t *testing.T) {
	s := NewSyncer(seeded(t), GatewayFunc(func(context.Context, []Record) error { return nil }), nil, "not a schedule", nil)
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func newTestHTTP(t *testing.T, url string) *HTTP {
	t.Helper()
	h, err := NewHTTP(url, t.TempDir(), TLSFiles{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.maxElapsed = 200 * time.Millisecond
	return h
}

func TestHTTP_Persist(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		body, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	h := newTestHTTP(t, srv.URL)
	if err := h.Persist(context.Background(), []Record{FromTarget(drone("a"))}); err != nil {
		t.Fatal(err)
	}
	var got []Record
	if err := json.Unmarshal(body, &got); err != nil || len(got) != 1 || got[0].ID != "a" {
		t.Errorf("unexpected body %s (%v)", body, err)
	}
}

func TestHTTP_SpoolAndDrain(t *testing.T) {
	var healthy atomic.Bool
	var received atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		b, _ := io.ReadAll(r.Body)
		received.Store(string(b))
	}))
	defer srv.Close()

	h := newTestHTTP(t, srv.URL)
	if err := h.Persist(context.Background(), []Record{FromTarget(drone("old"))}); err == nil {
		t.Fatal("expected failure")
	}
	time.Sleep(2 * time.Millisecond)
	if err := h.Persist(context.Background(), []Record{FromTarget(drone("new"))}); err == nil {
		t.Fatal("expected failure")
	}
	if n := len(h.spooled()); n != 2 {
		t.Fatalf("expected 2 spooled snapshots, got %d", n)
	}

	healthy.Store(true)
	if err := h.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s, _ := received.Load().(string); !strings.Contains(s, `"id":"new"`) {
		t.Errorf("expected newest snapshot replayed, got %s", s)
	}
	if n := len(h.spooled()); n != 0 {
		t.Errorf("expected spool cleared, got %d files", n)
	}
}

func TestHTTP_ClientErrorIsPermanent(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	h := newTestHTTP(t, srv.URL)
	h.maxElapsed = 5 * time.Second
	if err := h.Persist(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected no retries on 400, got %d attempts", hits)
	}
}

func TestNewHTTP_BadCA(t *testing.T) {
	ca := t.TempDir() + "/ca.pem"
	if err := os.WriteFile(ca, []byte("not pem"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewHTTP("http://localhost", "", TLSFiles{CA: ca}, nil); err == nil {
		t.Fatal("expected error for empty CA bundle")
	}
}
