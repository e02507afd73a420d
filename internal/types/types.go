package types

import (
	"fmt"
	"time"
)

// Category is the threat taxonomy a target belongs to.
type Category string

const (
	CategoryDrone     Category = "drone"
	CategoryMissile   Category = "missile"
	CategoryBallistic Category = "ballistic"
	CategoryKAB       Category = "kab"
	CategoryRecon     Category = "recon"
	CategoryArtillery Category = "artillery"
	CategoryUnknown   Category = "unknown"
)

// Known reports whether c is a specific (non-unknown) category.
func (c Category) Known() bool {
	return c != "" && c != CategoryUnknown
}

// Status is the lifecycle state of a target.
type Status string

const (
	StatusDetected         Status = "detected"
	StatusMoving           Status = "moving"
	StatusChangedDirection Status = "changed_direction"
	StatusLost             Status = "lost"
	StatusDestroyed        Status = "destroyed"
)

// IsTerminal reports whether the status ends the target's active life.
func (s Status) IsTerminal() bool {
	return s == StatusLost || s == StatusDestroyed
}

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is a named place with optional coordinates.
type Location struct {
	Name  string `json:"name,omitempty"`
	Point *Point `json:"point,omitempty"`
}

// HistoryEntry records one report attributed to a target.
type HistoryEntry struct {
	At         time.Time `json:"at"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Bearing    *float64  `json:"bearing,omitempty"`
}

// Target is a tracked threat with a bounded lifetime.
type Target struct {
	ID            string         `json:"id"`
	Category      Category       `json:"category"`
	Status        Status         `json:"status"`
	Location      *Location      `json:"location,omitempty"`
	Label         string         `json:"label"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	ExpireAt      time.Time      `json:"expire_at"`
	History       []HistoryEntry `json:"history"`
	LastMessageID int64          `json:"last_message_id"`
}

// Expired reports whether the target's lifetime has elapsed at now.
func (t *Target) Expired(now time.Time) bool {
	return !t.ExpireAt.After(now)
}

// Point returns the target's coordinates, if known.
func (t *Target) Point() (Point, bool) {
	if t.Location == nil || t.Location.Point == nil {
		return Point{}, false
	}
	return *t.Location.Point, true
}

// Clone returns a deep copy safe to hand out of the registry.
func (t *Target) Clone() Target {
	c := *t
	if t.Location != nil {
		loc := *t.Location
		if t.Location.Point != nil {
			p := *t.Location.Point
			loc.Point = &p
		}
		c.Location = &loc
	}
	c.History = make([]HistoryEntry, len(t.History))
	for i, h := range t.History {
		c.History[i] = h
		if h.Bearing != nil {
			b := *h.Bearing
			c.History[i].Bearing = &b
		}
	}
	return c
}

// RefreshLabel rebuilds the human readable caption.
func (t *Target) RefreshLabel() {
	if t.Location != nil && t.Location.Name != "" {
		t.Label = fmt.Sprintf("%s · %s", t.Category, t.Location.Name)
		return
	}
	t.Label = string(t.Category)
}

// Event is one inbound message as delivered by a transport.
type Event struct {
	Text       string    `json:"text"`
	MessageID  int64     `json:"id"`
	ReplyTo    int64     `json:"reply_to,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// ChangeKind names a registry mutation visible to subscribers.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeEvicted ChangeKind = "evicted"
	ChangeCleared ChangeKind = "cleared"
)

// Change is published after a registry mutation commits.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	Target *Target    `json:"target,omitempty"`
	IDs    []string   `json:"ids,omitempty"`
	At     time.Time  `json:"at"`
}
