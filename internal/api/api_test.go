package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gustycube/skywatch/internal/types"
)

type fakeTracker struct {
	targets []types.Target
	cleared int
}

func (f *fakeTracker) ListActive() []types.Target { return f.targets }

func (f *fakeTracker) ClearAll() int {
	n := len(f.targets)
	f.targets = nil
	f.cleared++
	return n
}

func target(id string, cat types.Category, name string, p *types.Point) types.Target {
	t := types.Target{ID: id, Category: cat, Status: types.StatusDetected}
	if name != "" {
		t.Location = &types.Location{Name: name, Point: p}
	}
	t.RefreshLabel()
	return t
}

var (
	kharkiv    = types.Point{Lat: 49.9935, Lng: 36.2304}
	bohodukhiv = types.Point{Lat: 50.1653, Lng: 35.5274}
)

func fixture() (*fakeTracker, *Server) {
	ft := &fakeTracker{targets: []types.Target{
		target("a", types.CategoryDrone, "Богодухів", &bohodukhiv),
		target("b", types.CategoryMissile, "Харків", &kharkiv),
		target("c", types.CategoryKAB, "", nil),
	}}
	return ft, New(ft, NewHub(nil), nil)
}

func TestNearbyFiltersAndSorts(t *testing.T) {
	_, s := fixture()

	got := s.Nearby(kharkiv, 20)
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("Nearby(20km) = %+v", got)
	}
	got = s.Nearby(kharkiv, 80)
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("Nearby(80km) = %+v", got)
	}
	if got[1].DistanceKm < 40 || got[1].DistanceKm > 70 {
		t.Errorf("distance to Богодухів = %.1f km", got[1].DistanceKm)
	}
}

func TestParseNearby(t *testing.T) {
	tests := []struct {
		query  string
		ok     bool
		radius float64
	}{
		{"lat=50&lng=36", true, DefaultRadiusKm},
		{"lat=50&lng=36&radius=10", true, 10},
		{"lat=50", false, 0},
		{"lat=abc&lng=36", false, 0},
		{"lat=95&lng=36", false, 0},
		{"lat=50&lng=36&radius=0", false, 0},
	}
	for _, tt := range tests {
		q, _ := url.ParseQuery(tt.query)
		_, radius, err := parseNearby(q)
		if (err == nil) != tt.ok {
			t.Errorf("parseNearby(%q) err = %v", tt.query, err)
			continue
		}
		if tt.ok && radius != tt.radius {
			t.Errorf("parseNearby(%q) radius = %v, want %v", tt.query, radius, tt.radius)
		}
	}
}

func TestHUDSkipsUnlocated(t *testing.T) {
	_, s := fixture()
	hud := s.HUD()
	if len(hud) != 2 {
		t.Fatalf("HUD len = %d, want 2", len(hud))
	}
	if hud[0].Type != "drone" || hud[0].Label != "drone · Богодухів" {
		t.Errorf("hud[0] = %+v", hud[0])
	}
}

func TestClear(t *testing.T) {
	ft, s := fixture()
	if n := s.Clear(); n != 3 {
		t.Errorf("Clear = %d, want 3", n)
	}
	if ft.cleared != 1 || len(s.Targets()) != 0 {
		t.Errorf("tracker not cleared")
	}
}

func TestStreamDeliversSnapshotAndChanges(t *testing.T) {
	_, s := fixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = s.Stream(w, r)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	rd := bufio.NewReader(resp.Body)
	readFrame := func() (string, string) {
		var event, data string
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				return event, data
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	event, data := readFrame()
	if event != "snapshot" || !strings.Contains(data, `"id":"a"`) {
		t.Fatalf("first frame = %s %s", event, data)
	}

	s.hub.Publish(types.Change{Kind: types.ChangeEvicted, IDs: []string{"a"}, At: time.Now()})
	event, data = readFrame()
	if event != "evicted" || !strings.Contains(data, `"ids":["a"]`) {
		t.Errorf("change frame = %s %s", event, data)
	}
}

func TestStreamEndsWhenHubStops(t *testing.T) {
	_, s := fixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = s.Stream(w, r)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	rd := bufio.NewReader(resp.Body)
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
		if line == "\n" {
			break
		}
	}

	cancel()
	eof := make(chan error, 1)
	go func() {
		for {
			if _, err := rd.ReadString('\n'); err != nil {
				eof <- err
				return
			}
		}
	}()
	select {
	case <-eof:
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after the hub stopped")
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c := &Client{ID: "slow", Send: make(chan []byte, 1)}
	if !h.Register(ctx, c) {
		t.Fatal("register failed")
	}
	h.Publish(types.Change{Kind: types.ChangeCreated})
	h.Publish(types.Change{Kind: types.ChangeCleared})

	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow client was not dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if msg, open := <-c.Send; !open || !strings.HasPrefix(string(msg), "event: created") {
		t.Fatalf("first frame = %q open=%v", msg, open)
	}
	if _, open := <-c.Send; open {
		t.Fatal("expected closed channel after drop")
	}
	h.Unregister(c)
}

func TestHubStopClosesClients(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	c := &Client{ID: "x", Send: make(chan []byte, 1)}
	h.Register(ctx, c)
	cancel()
	select {
	case _, open := <-c.Send:
		if open {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client not closed on shutdown")
	}
	<-h.done
	if h.Register(context.Background(), &Client{ID: "late"}) {
		t.Error("register after stop should fail")
	}
}
