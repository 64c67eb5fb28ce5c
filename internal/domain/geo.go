package domain

import "math"

const earthRadiusKm = 6371.0

// DefaultPickup and DefaultDropoff stand in for deliveries whose addresses
// were never geocoded (São Paulo city centre).
var (
	DefaultPickup  = Coords{Lat: -23.5505, Lng: -46.6333}
	DefaultDropoff = Coords{Lat: -23.5555, Lng: -46.6383}
)

// Valid reports whether c is a real position on the globe.
func (c Coords) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b Coords) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// PickupCoords returns the pickup position or the default one.
func (d Delivery) PickupCoords() Coords {
	if d.Pickup.Coords != nil {
		return *d.Pickup.Coords
	}
	return DefaultPickup
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
