// Package geo implements the pure geometry behind delivery pricing.
package geo

import (
	"math"

	"github.com/sliceline/pizzabot/internal/models"
)

// earthRadiusKm is the mean Earth radius used for great-circle distance.
const earthRadiusKm = 6371.0

// Delivery tier boundaries (kilometres, inclusive upper bounds) and fees in
// major currency units.
const (
	FreeDeliveryRadiusKm = 0.5
	NearDeliveryRadiusKm = 5.0
	FarDeliveryRadiusKm  = 20.0
	NearDeliveryFee      = 100
	FarDeliveryFee       = 300
)

// Distance returns the great-circle distance between two points in km.
func Distance(a, b models.GeoPoint) float64 {
	latA := a.Latitude * math.Pi / 180
	latB := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// Nearest selects the pizzeria with the strict minimum distance to the
// point. Ties keep the first-encountered entry (stable). The boolean is
// false when the reference set is empty.
func Nearest(pizzerias []models.PizzeriaLocation, point models.GeoPoint) (models.PizzeriaLocation, float64, bool) {
	if len(pizzerias) == 0 {
		return models.PizzeriaLocation{}, 0, false
	}
	best := pizzerias[0]
	bestDistance := Distance(best.Point(), point)
	for _, candidate := range pizzerias[1:] {
		if d := Distance(candidate.Point(), point); d < bestDistance {
			best, bestDistance = candidate, d
		}
	}
	return best, bestDistance, true
}

// Tier is a distance-derived pricing/eligibility bracket.
type Tier struct {
	// CourierAvailable reports whether courier delivery may be offered.
	CourierAvailable bool
	// Fee is the courier fee in major currency units.
	Fee int64
	// FreeOffer marks the walking-distance tier where both free pickup and
	// free courier delivery are offered.
	FreeOffer bool
}

// DeliveryTier maps a nearest-pizzeria distance (km) to its pricing tier.
// Boundaries are inclusive on the near side: exactly 0.5 km is still the
// free tier, exactly 5 km the 100 tier, exactly 20 km the 300 tier.
func DeliveryTier(distanceKm float64) Tier {
	switch {
	case distanceKm <= FreeDeliveryRadiusKm:
		return Tier{CourierAvailable: true, Fee: 0, FreeOffer: true}
	case distanceKm <= NearDeliveryRadiusKm:
		return Tier{CourierAvailable: true, Fee: NearDeliveryFee}
	case distanceKm <= FarDeliveryRadiusKm:
		return Tier{CourierAvailable: true, Fee: FarDeliveryFee}
	default:
		return Tier{CourierAvailable: false}
	}
}
