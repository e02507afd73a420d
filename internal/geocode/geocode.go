// Package geocode resolves free-text place names to coordinates.
package geocode

import (
	"context"
	"errors"
	"strings"

	"github.com/gustycube/skywatch/internal/types"
)

// ErrNotFound means the name is not known to the geocoder.
var ErrNotFound = errors.New("place not found")

type Result struct {
	Name  string      `json:"name"`
	Point types.Point `json:"point"`
}

// Location converts r into a target location.
func (r Result) Location() *types.Location {
	p := r.Point
	return &types.Location{Name: r.Name, Point: &p}
}

type Geocoder interface {
	Geocode(ctx context.Context, name string) (Result, error)
}

// Chain tries each geocoder in order and returns the first hit.
type Chain []Geocoder

func (c Chain) Geocode(ctx context.Context, name string) (Result, error) {
	var last error = ErrNotFound
	for _, g := range c {
		res, err := g.Geocode(ctx, name)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if !errors.Is(err, ErrNotFound) {
			last = err
		}
	}
	return Result{}, last
}

func normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
