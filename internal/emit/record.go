package emit

import (
	"time"

	"github.com/gustycube/skywatch/internal/types"
)

type LocationRecord struct {
	Name string  `json:"name,omitempty"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// Record is the persisted shape of one active target. The flat type, lat,
// lng and label fields are what map front-ends read from targets.json.
type Record struct {
	ID        string               `json:"id"`
	Category  types.Category       `json:"category"`
	Status    types.Status         `json:"status"`
	Location  *LocationRecord      `json:"location,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	ExpireAt  time.Time            `json:"expire_at"`
	History   []types.HistoryEntry `json:"history"`

	Type  string  `json:"type"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label"`
}

func FromTarget(t types.Target) Record {
	r := Record{
		ID:        t.ID,
		Category:  t.Category,
		Status:    t.Status,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
		ExpireAt:  t.ExpireAt,
		History:   t.History,
		Type:      string(t.Category),
		Label:     t.Label,
	}
	if r.History == nil {
		r.History = []types.HistoryEntry{}
	}
	if p, ok := t.Point(); ok {
		r.Location = &LocationRecord{Name: t.Location.Name, Lat: p.Lat, Lng: p.Lng}
		r.Lat, r.Lng = p.Lat, p.Lng
	}
	return r
}

func FromTargets(ts []types.Target) []Record {
	out := make([]Record, 0, len(ts))
	for _, t := range ts {
		out = append(out, FromTarget(t))
	}
	return out
}
