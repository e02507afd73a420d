package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gustycube/skywatch/internal/classify"
	"github.com/gustycube/skywatch/internal/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	now     time.Time
	targets map[string]types.Target
}

func newStore() *memStore { return &memStore{now: t0, targets: map[string]types.Target{}} }

func (m *memStore) Now() time.Time { return m.now }

func (m *memStore) Insert(t types.Target) error {
	m.targets[t.ID] = t
	return nil
}

func (m *memStore) Save(t types.Target) error {
	if _, ok := m.targets[t.ID]; !ok {
		return errors.New("unknown")
	}
	m.targets[t.ID] = t
	return nil
}

func newEngine() *Engine {
	e := New(classify.New(nil, 0), DefaultConfig())
	n := 0
	e.newID = func() string { n++; return fmt.Sprintf("t%d", n) }
	return e
}

func loc(name string, lat, lng float64) *types.Location {
	return &types.Location{Name: name, Point: &types.Point{Lat: lat, Lng: lng}}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		name      string
		prev      types.Status
		text      string
		relocated bool
		moved     bool
		want      types.Status
	}{
		{"destroyed vocabulary", types.StatusMoving, "Ціль збито", false, false, types.StatusDestroyed},
		{"impact", types.StatusDetected, "Приліт у Богодухові", true, true, types.StatusDestroyed},
		{"lost", types.StatusMoving, "Ціль зникла з радарів", false, false, types.StatusLost},
		{"relocated beats course vocabulary", types.StatusDetected, "змінив курс на Харків", true, true, types.StatusMoving},
		{"course change", types.StatusMoving, "курс змінився", false, false, types.StatusChangedDirection},
		{"shift without vocabulary", types.StatusDetected, "на південь", false, true, types.StatusMoving},
		{"no signal keeps status", types.StatusChangedDirection, "ще летить", false, false, types.StatusChangedDirection},
		{"terminal absorbs movement", types.StatusLost, "на Полтаву", true, true, types.StatusLost},
		{"lost can become destroyed", types.StatusLost, "знищено", false, false, types.StatusDestroyed},
		{"destroyed stays destroyed", types.StatusDestroyed, "зникла", false, false, types.StatusDestroyed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transition(tt.prev, tt.text, tt.relocated, tt.moved); got != tt.want {
				t.Errorf("Transition(%s, %q) = %s, want %s", tt.prev, tt.text, got, tt.want)
			}
		})
	}
}

func TestCreate(t *testing.T) {
	e := newEngine()
	s := newStore()

	tgt, err := e.Create(s, Update{Text: "Шахед на Богодухів", MessageID: 1, Category: types.CategoryDrone, Location: loc("Богодухів", 50.1653, 35.5274)})
	if err != nil {
		t.Fatal(err)
	}
	if tgt.Status != types.StatusDetected {
		t.Errorf("expected detected, got %s", tgt.Status)
	}
	if !tgt.ExpireAt.Equal(t0.Add(45 * time.Minute)) {
		t.Errorf("expected drone lifetime, got expiry %s", tgt.ExpireAt)
	}
	if len(tgt.History) != 1 || tgt.LastMessageID != 1 {
		t.Errorf("unexpected history/last message: %d %d", len(tgt.History), tgt.LastMessageID)
	}
	if tgt.Label != "drone · Богодухів" {
		t.Errorf("unexpected label %q", tgt.Label)
	}
	if _, ok := s.targets[tgt.ID]; !ok {
		t.Error("expected target inserted into store")
	}
}

func TestCreate_ReportedAtOnlyStampsHistory(t *testing.T) {
	tests := []struct {
		name     string
		reported time.Time
		want     time.Time
	}{
		{"absent", time.Time{}, t0},
		{"earlier", t0.Add(-2 * time.Hour), t0.Add(-2 * time.Hour)},
		{"future clamped", t0.Add(24 * time.Hour), t0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tgt, err := newEngine().Create(newStore(), Update{Text: "Шахед на Богодухів", MessageID: 1, Category: types.CategoryDrone, Location: loc("Богодухів", 50.1653, 35.5274), ReportedAt: tt.reported})
			if err != nil {
				t.Fatal(err)
			}
			if !tgt.History[0].At.Equal(tt.want) {
				t.Errorf("history at %s, want %s", tgt.History[0].At, tt.want)
			}
			if !tgt.ExpireAt.Equal(t0.Add(45 * time.Minute)) {
				t.Errorf("expiry %s should follow the local clock", tgt.ExpireAt)
			}
		})
	}
}

func TestCreate_NeedsLocation(t *testing.T) {
	e := newEngine()
	_, err := e.Create(newStore(), Update{Text: "Увага! Рух БПЛА.", Category: types.CategoryDrone})
	if !errors.Is(err, ErrNoLocation) {
		t.Fatalf("expected ErrNoLocation, got %v", err)
	}
	_, err = e.Create(newStore(), Update{Category: types.CategoryDrone, Location: &types.Location{Name: "Десь"}})
	if !errors.Is(err, ErrNoLocation) {
		t.Fatalf("expected ErrNoLocation for a name without coordinates, got %v", err)
	}
}

func TestApply_CategoryRefinement(t *testing.T) {
	e := newEngine()
	s := newStore()

	tgt, _ := e.Create(s, Update{Text: "Ціль на Полтаву", Category: types.CategoryUnknown, Location: loc("Полтава", 49.5883, 34.5514)})
	if tgt.Category != types.CategoryUnknown {
		t.Fatalf("expected unknown, got %s", tgt.Category)
	}

	tgt, _ = e.Apply(s, tgt, Update{Text: "це шахед", Category: types.CategoryDrone})
	if tgt.Category != types.CategoryDrone {
		t.Errorf("expected refinement to drone, got %s", tgt.Category)
	}
	if !tgt.ExpireAt.Equal(t0.Add(45 * time.Minute)) {
		t.Errorf("expected refined lifetime, got %s", tgt.ExpireAt)
	}

	tgt, _ = e.Apply(s, tgt, Update{Text: "ще летить", Category: types.CategoryUnknown})
	if tgt.Category != types.CategoryDrone {
		t.Errorf("expected drone to survive an ambiguous update, got %s", tgt.Category)
	}

	tgt, _ = e.Apply(s, tgt, Update{Text: "ракета", Category: types.CategoryMissile})
	if tgt.Category != types.CategoryDrone {
		t.Errorf("expected specific category to be immutable, got %s", tgt.Category)
	}
}

func TestApply_TerminalGrace(t *testing.T) {
	e := newEngine()
	s := newStore()
	tgt, _ := e.Create(s, Update{Text: "Шахед на Богодухів", Category: types.CategoryDrone, Location: loc("Богодухів", 50.1653, 35.5274)})

	s.now = t0.Add(5 * time.Minute)
	tgt, err := e.Apply(s, tgt, Update{Text: "Збито", MessageID: 2})
	if err != nil {
		t.Fatal(err)
	}
	if tgt.Status != types.StatusDestroyed {
		t.Fatalf("expected destroyed, got %s", tgt.Status)
	}
	if want := s.now.Add(60 * time.Second); !tgt.ExpireAt.Equal(want) {
		t.Errorf("expected grace expiry %s, got %s", want, tgt.ExpireAt)
	}
}

func TestApply_LocationAndDirection(t *testing.T) {
	e := newEngine()
	s := newStore()
	tgt, _ := e.Create(s, Update{Text: "Шахед на Богодухів", Category: types.CategoryDrone, Location: loc("Богодухів", 50.1653, 35.5274)})

	south := 180.0
	tgt, _ = e.Apply(s, tgt, Update{Text: "на південь", Bearing: &south})
	if tgt.Status != types.StatusMoving {
		t.Errorf("expected moving after a shift, got %s", tgt.Status)
	}
	p, _ := tgt.Point()
	if p.Lat >= 50.1653 {
		t.Errorf("expected southward shift, got %v", p)
	}
	if tgt.Location.Name != "Богодухів" {
		t.Errorf("expected name kept on shift, got %q", tgt.Location.Name)
	}

	tgt, _ = e.Apply(s, tgt, Update{Text: "на Харків", Location: loc("Харків", 49.9935, 36.2304)})
	if tgt.Location.Name != "Харків" || tgt.Status != types.StatusMoving {
		t.Errorf("expected relocation to Харків, got %+v %s", tgt.Location, tgt.Status)
	}
	if tgt.Label != "drone · Харків" {
		t.Errorf("expected label to follow location, got %q", tgt.Label)
	}
}

func TestApply_HistoryBounded(t *testing.T) {
	e := New(classify.New(nil, 0), Config{HistoryLimit: 3})
	s := newStore()
	tgt, _ := e.Create(s, Update{Text: "first", Category: types.CategoryDrone, Location: loc("A", 1, 1)})

	for i := 0; i < 5; i++ {
		tgt, _ = e.Apply(s, tgt, Update{Text: fmt.Sprintf("update %d", i), MessageID: int64(i + 10)})
	}
	if len(tgt.History) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(tgt.History))
	}
	if tgt.History[2].Text != "update 4" || tgt.History[0].Text != "update 2" {
		t.Errorf("expected most recent entries kept, got %v", tgt.History)
	}
	if tgt.LastMessageID != 14 {
		t.Errorf("expected last message 14, got %d", tgt.LastMessageID)
	}
}

func TestExcerpt(t *testing.T) {
	long := strings.Repeat("ш", 300)
	if got := []rune(excerpt(long)); len(got) != excerptRunes+1 {
		t.Errorf("expected truncated excerpt, got %d runes", len(got))
	}
}
