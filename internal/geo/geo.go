package geo

import (
	"math"

	"github.com/gustycube/skywatch/internal/types"
)

const earthRadiusKm = 6371.0

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b types.Point) float64 {
	dLat := rad(b.Lat - a.Lat)
	dLng := rad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Offset moves p by distKm along bearing (degrees clockwise from north).
func Offset(p types.Point, bearing, distKm float64) types.Point {
	d := distKm / earthRadiusKm
	brg := rad(bearing)
	lat1, lng1 := rad(p.Lat), rad(p.Lng)
	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(brg))
	lng2 := lng1 + math.Atan2(math.Sin(brg)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	lng := math.Mod(deg(lng2)+540, 360) - 180
	return types.Point{Lat: deg(lat2), Lng: lng}
}
