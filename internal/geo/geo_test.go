package geo

import (
	"math"
	"testing"

	"github.com/gustycube/skywatch/internal/types"
)

func TestDistanceKm(t *testing.T) {
	kharkiv := types.Point{Lat: 49.9935, Lng: 36.2304}
	kyiv := types.Point{Lat: 50.4501, Lng: 30.5234}

	d := DistanceKm(kharkiv, kyiv)
	if d < 400 || d > 420 {
		t.Errorf("expected Kharkiv-Kyiv around 410km, got %.1f", d)
	}
	if DistanceKm(kyiv, kyiv) != 0 {
		t.Error("expected zero distance for identical points")
	}
}

func TestOffset(t *testing.T) {
	start := types.Point{Lat: 50, Lng: 36}

	north := Offset(start, 0, 10)
	if north.Lat <= start.Lat {
		t.Errorf("expected latitude to grow moving north, got %v", north)
	}
	if math.Abs(north.Lng-start.Lng) > 1e-9 {
		t.Errorf("expected longitude unchanged moving north, got %v", north)
	}

	west := Offset(start, 270, 10)
	if west.Lng >= start.Lng {
		t.Errorf("expected longitude to shrink moving west, got %v", west)
	}

	if d := DistanceKm(start, Offset(start, 135, 25)); math.Abs(d-25) > 0.01 {
		t.Errorf("expected offset of 25km, got %.3f", d)
	}
}
