// Package api serves the read side of the tracker over HTTP: active
// targets, proximity queries, the HUD snapshot and a live change stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/Sudo-Ivan/jacked-api/jacked"

	"github.com/gustycube/skywatch/internal/emit"
	"github.com/gustycube/skywatch/internal/geo"
	"github.com/gustycube/skywatch/internal/logging"
	"github.com/gustycube/skywatch/internal/types"
)

const DefaultRadiusKm = 50.0

var ErrBadQuery = errors.New("lat and lng are required numbers, radius must be positive")

// Tracker is the slice of the tracker the API reads from.
type Tracker interface {
	ListActive() []types.Target
	ClearAll() int
}

// Nearby is an active target with its distance from the query point.
type Nearby struct {
	emit.Record
	DistanceKm float64 `json:"distance_km"`
}

// HUDEntry is the minimal shape consumed by the map overlay.
type HUDEntry struct {
	ID    string  `json:"id"`
	Type  string  `json:"type"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label"`
}

type Server struct {
	tracker Tracker
	hub     *Hub
	log     *logging.Logger
}

func New(t Tracker, hub *Hub, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	return &Server{tracker: t, hub: hub, log: log}
}

// Targets returns every active target.
func (s *Server) Targets() []emit.Record {
	return emit.FromTargets(s.tracker.ListActive())
}

// Nearby returns active targets with coordinates within radiusKm of the
// point, nearest first.
func (s *Server) Nearby(p types.Point, radiusKm float64) []Nearby {
	out := []Nearby{}
	for _, t := range s.tracker.ListActive() {
		tp, ok := t.Point()
		if !ok {
			continue
		}
		d := geo.DistanceKm(p, tp)
		if d <= radiusKm {
			out = append(out, Nearby{Record: emit.FromTarget(t), DistanceKm: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out
}

// HUD returns located targets in the overlay format.
func (s *Server) HUD() []HUDEntry {
	out := []HUDEntry{}
	for _, t := range s.tracker.ListActive() {
		p, ok := t.Point()
		if !ok {
			continue
		}
		out = append(out, HUDEntry{ID: t.ID, Type: string(t.Category), Lat: p.Lat, Lng: p.Lng, Label: t.Label})
	}
	return out
}

// Clear drops all targets.
func (s *Server) Clear() int {
	return s.tracker.ClearAll()
}

func parseNearby(q map[string][]string) (types.Point, float64, error) {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	lat, err := strconv.ParseFloat(get("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		return types.Point{}, 0, ErrBadQuery
	}
	lng, err := strconv.ParseFloat(get("lng"), 64)
	if err != nil || lng < -180 || lng > 180 {
		return types.Point{}, 0, ErrBadQuery
	}
	radius := DefaultRadiusKm
	if r := get("radius"); r != "" {
		radius, err = strconv.ParseFloat(r, 64)
		if err != nil || radius <= 0 {
			return types.Point{}, 0, ErrBadQuery
		}
	}
	return types.Point{Lat: lat, Lng: lng}, radius, nil
}

// Stream writes the current snapshot and then live changes as SSE until
// the request ends or the hub shuts down.
func (s *Server) Stream(w http.ResponseWriter, r *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("streaming unsupported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ctx := r.Context()
	client := &Client{ID: r.RemoteAddr, Send: make(chan []byte, 256)}
	if !s.hub.Register(ctx, client) {
		return nil
	}
	defer s.hub.Unregister(client)

	frame, err := encodeFrame("snapshot", s.Targets())
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return nil
	}
	flusher.Flush()

	for {
		select {
		case msg, open := <-client.Send:
			if !open {
				return nil
			}
			if _, err := w.Write(msg); err != nil {
				s.log.Debugw("sse write failed", "client", client.ID, "err", err)
				return nil
			}
			flusher.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}

// ListenAndServe registers the routes and serves until ctx is done. jacked
// exposes no shutdown hook, so the listener itself stays bound until the
// process exits; open event streams end once the hub's context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	cfg := jacked.DefaultConfig()
	cfg.WriteTimeout = 30 * time.Minute
	cfg.IdleTimeout = 30 * time.Minute
	app := jacked.NewWithConfig(cfg)

	app.GET("/api/targets", func(c *jacked.Context) error {
		return c.JSON(http.StatusOK, s.Targets())
	})
	app.GET("/api/targets/nearby", func(c *jacked.Context) error {
		p, radius, err := parseNearby(c.Request.URL.Query())
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, s.Nearby(p, radius))
	})
	app.POST("/api/targets/clear", func(c *jacked.Context) error {
		n := s.Clear()
		s.log.Infow("targets cleared via api", "remote", c.Request.RemoteAddr, "count", n)
		return c.JSON(http.StatusOK, map[string]int{"cleared": n})
	})
	app.GET("/targets.json", func(c *jacked.Context) error {
		return c.JSON(http.StatusOK, s.HUD())
	})
	app.GET("/api/events", func(c *jacked.Context) error {
		if err := s.Stream(c.Response, c.Request); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return nil
	})

	errCh := make(chan error, 1)
	go func() { errCh <- app.ListenAndServe(addr) }()
	s.log.Infow("api listening", "addr", addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
