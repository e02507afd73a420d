package lifecycle

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gustycube/skywatch/internal/geo"
	"github.com/gustycube/skywatch/internal/types"
)

// ErrNoLocation is returned by Create when the update has no coordinates.
var ErrNoLocation = errors.New("a new target needs a resolved location")

const excerptRunes = 200

var (
	destroyedVocab = []string{"збит", "збили", "знищ", "мінус", "приліт", "вибух", "влуч", "shot down", "destroyed", "intercepted", "impact"}
	lostVocab      = []string{"зник", "втрачен", "не фіксу", "більше не відстежу", "no longer tracked", "disappeared", "lost"}
	courseVocab    = []string{"курс змін", "змінив курс", "змінила курс", "змінює курс", "змінюють курс", "розверну", "розворот", "changed course", "changing course", "turned"}
)

// Lifetimes supplies the per-category lifetime policy.
type Lifetimes interface {
	Lifetime(types.Category) time.Duration
}

// Store is the write side of a registry transaction.
type Store interface {
	Now() time.Time
	Insert(types.Target) error
	Save(types.Target) error
}

type Config struct {
	Grace        time.Duration
	HistoryLimit int
	StepKm       float64
}

func DefaultConfig() Config {
	return Config{Grace: 60 * time.Second, HistoryLimit: 20, StepKm: 10}
}

// Update is one resolved report to fold into a target.
type Update struct {
	Text       string
	MessageID  int64
	Category   types.Category
	Location   *types.Location // geocoded, nil when unavailable
	Bearing    *float64
	Confidence float64
	ReportedAt time.Time // sender time, history only; zero means now
}

type Engine struct {
	lifetimes Lifetimes
	cfg       Config
	newID     func() string
}

func New(l Lifetimes, cfg Config) *Engine {
	d := DefaultConfig()
	if cfg.Grace <= 0 {
		cfg.Grace = d.Grace
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = d.HistoryLimit
	}
	if cfg.StepKm <= 0 {
		cfg.StepKm = d.StepKm
	}
	return &Engine{lifetimes: l, cfg: cfg, newID: uuid.NewString}
}

// Create starts a new target from an unresolved report.
func (e *Engine) Create(s Store, u Update) (types.Target, error) {
	if u.Location == nil || u.Location.Point == nil {
		return types.Target{}, ErrNoLocation
	}
	now := s.Now()
	cat := u.Category
	if cat == "" {
		cat = types.CategoryUnknown
	}
	loc := *u.Location
	p := *u.Location.Point
	loc.Point = &p

	t := types.Target{
		ID:            e.newID(),
		Category:      cat,
		Status:        types.StatusDetected,
		Location:      &loc,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpireAt:      now.Add(e.lifetimes.Lifetime(cat)),
		LastMessageID: u.MessageID,
	}
	t.History = []types.HistoryEntry{entry(now, u, 1)}
	t.RefreshLabel()

	if err := s.Insert(t); err != nil {
		return types.Target{}, err
	}
	return t, nil
}

// Apply folds a resolved report into t and saves it.
func (e *Engine) Apply(s Store, t types.Target, u Update) (types.Target, error) {
	now := s.Now()

	if u.Category.Known() && !t.Category.Known() {
		t.Category = u.Category
	}

	relocated, moved := false, false
	switch {
	case u.Location != nil && u.Location.Point != nil:
		relocated = !sameLocation(t.Location, u.Location)
		loc := *u.Location
		p := *u.Location.Point
		loc.Point = &p
		t.Location = &loc
		moved = true
	case u.Bearing != nil:
		if prev, ok := t.Point(); ok {
			p := geo.Offset(prev, *u.Bearing, e.cfg.StepKm)
			name := ""
			if t.Location != nil {
				name = t.Location.Name
			}
			t.Location = &types.Location{Name: name, Point: &p}
			moved = true
		}
	}

	t.Status = Transition(t.Status, u.Text, relocated, moved)
	if t.Status.IsTerminal() {
		t.ExpireAt = now.Add(e.cfg.Grace)
	} else {
		t.ExpireAt = now.Add(e.lifetimes.Lifetime(t.Category))
	}
	t.UpdatedAt = now

	t.History = append(t.History, entry(now, u, u.Confidence))
	if over := len(t.History) - e.cfg.HistoryLimit; over > 0 {
		t.History = append([]types.HistoryEntry(nil), t.History[over:]...)
	}
	if u.MessageID != 0 {
		t.LastMessageID = u.MessageID
	}
	t.RefreshLabel()

	if err := s.Save(t); err != nil {
		return types.Target{}, err
	}
	return t, nil
}

// Transition computes the next status from the report text. relocated means
// a new location different from the previous one; moved means any position
// update happened.
func Transition(prev types.Status, text string, relocated, moved bool) types.Status {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, destroyedVocab):
		return types.StatusDestroyed
	case prev == types.StatusDestroyed:
		return prev
	case containsAny(lower, lostVocab):
		return types.StatusLost
	case prev.IsTerminal():
		return prev
	case relocated:
		return types.StatusMoving
	case containsAny(lower, courseVocab):
		return types.StatusChangedDirection
	case moved:
		return types.StatusMoving
	}
	return prev
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func sameLocation(a, b *types.Location) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != "" && b.Name != "" {
		return strings.EqualFold(a.Name, b.Name)
	}
	if a.Point == nil || b.Point == nil {
		return false
	}
	return *a.Point == *b.Point
}

// entry stamps the report with the sender's time, clamped to now. Expiry
// always runs on the local clock.
func entry(now time.Time, u Update, conf float64) types.HistoryEntry {
	at := now
	if !u.ReportedAt.IsZero() && u.ReportedAt.Before(now) {
		at = u.ReportedAt
	}
	h := types.HistoryEntry{At: at, Text: excerpt(u.Text), Confidence: conf}
	if u.Bearing != nil {
		b := *u.Bearing
		h.Bearing = &b
	}
	return h
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) <= excerptRunes {
		return s
	}
	return string(rs[:excerptRunes]) + "…"
}
