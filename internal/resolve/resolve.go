// Package resolve decides which tracked target, if any, a new report is
// about. It never fails: no match means "start a new target".
package resolve

import (
	"strings"

	"github.com/gustycube/skywatch/internal/geo"
	"github.com/gustycube/skywatch/internal/types"
)

// Method names the strategy that produced a resolution.
type Method string

const (
	MethodNone       Method = "none"
	MethodReply      Method = "reply"
	MethodSimilarity Method = "similarity"
)

// Weights tune similarity scoring. A candidate must score strictly above
// Threshold to be accepted.
type Weights struct {
	Category    float64 `yaml:"category" json:"category"`
	Place       float64 `yaml:"place" json:"place"`
	Proximity   float64 `yaml:"proximity" json:"proximity"`
	ProximityKm float64 `yaml:"proximity_km" json:"proximity_km"`
	Threshold   float64 `yaml:"threshold" json:"threshold"`
}

func DefaultWeights() Weights {
	return Weights{Category: 1.0, Place: 2.0, Proximity: 1.5, ProximityKm: 25, Threshold: 2.0}
}

// View is the read side of a registry transaction.
type View interface {
	ByReply(messageID int64) (types.Target, bool)
	Live() []types.Target
}

// Query carries what is known about the incoming report.
type Query struct {
	ReplyTo  int64
	Category types.Category
	Place    *types.Location
}

// Resolution is the resolver's verdict. Target is nil for "new".
type Resolution struct {
	Target     *types.Target
	Method     Method
	Score      float64
	Confidence float64
}

type Resolver struct {
	w Weights
}

func New(w Weights) *Resolver {
	return &Resolver{w: w}
}

// Resolve tries the reply chain first, then similarity over live,
// non-terminal targets.
func (r *Resolver) Resolve(v View, q Query) Resolution {
	if q.ReplyTo != 0 {
		if t, ok := v.ByReply(q.ReplyTo); ok {
			return Resolution{Target: &t, Method: MethodReply, Score: r.max(), Confidence: 1}
		}
	}

	var (
		best      *types.Target
		bestScore float64
	)
	for _, t := range v.Live() {
		if t.Status.IsTerminal() {
			continue
		}
		s := r.Score(t, q)
		if s <= r.w.Threshold {
			continue
		}
		if best == nil || s > bestScore || (s == bestScore && t.UpdatedAt.After(best.UpdatedAt)) {
			c := t
			best, bestScore = &c, s
		}
	}
	if best == nil {
		return Resolution{Method: MethodNone}
	}

	conf := 0.0
	if m := r.max(); m > 0 {
		conf = bestScore / m
	}
	return Resolution{Target: best, Method: MethodSimilarity, Score: bestScore, Confidence: conf}
}

// Score rates how likely t is the subject of q. Two different specific
// categories never match.
func (r *Resolver) Score(t types.Target, q Query) float64 {
	if q.Category.Known() && t.Category.Known() && q.Category != t.Category {
		return 0
	}
	var s float64
	if q.Category.Known() && q.Category == t.Category {
		s += r.w.Category
	}
	if q.Place == nil || t.Location == nil {
		return s
	}
	if q.Place.Name != "" && strings.EqualFold(q.Place.Name, t.Location.Name) {
		s += r.w.Place
	}
	if q.Place.Point != nil && t.Location.Point != nil &&
		geo.DistanceKm(*q.Place.Point, *t.Location.Point) <= r.w.ProximityKm {
		s += r.w.Proximity
	}
	return s
}

func (r *Resolver) max() float64 {
	return r.w.Category + r.w.Place + r.w.Proximity
}
