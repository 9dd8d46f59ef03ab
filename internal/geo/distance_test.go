package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sliceline/pizzabot/internal/models"
)

func TestDeliveryTierBoundaries(t *testing.T) {
	cases := []struct {
		name       string
		distanceKm float64
		want       Tier
	}{
		{"well inside free radius", 0.4, Tier{CourierAvailable: true, Fee: 0, FreeOffer: true}},
		{"exactly at free radius", 0.5, Tier{CourierAvailable: true, Fee: 0, FreeOffer: true}},
		{"just past free radius", 0.50001, Tier{CourierAvailable: true, Fee: 100}},
		{"exactly at near radius", 5.0, Tier{CourierAvailable: true, Fee: 100}},
		{"just past near radius", 5.00001, Tier{CourierAvailable: true, Fee: 300}},
		{"exactly at far radius", 20.0, Tier{CourierAvailable: true, Fee: 300}},
		{"just past far radius", 20.00001, Tier{CourierAvailable: false}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeliveryTier(tc.distanceKm))
		})
	}
}

func TestDistanceMoscowLandmarks(t *testing.T) {
	redSquare := models.GeoPoint{Longitude: 37.620393, Latitude: 55.75396}
	bolshoi := models.GeoPoint{Longitude: 37.618575, Latitude: 55.760221}

	km := Distance(redSquare, bolshoi)
	// Roughly 700 m apart.
	assert.InDelta(t, 0.71, km, 0.1)
	assert.Zero(t, Distance(redSquare, redSquare))
}

func TestNearestPicksClosest(t *testing.T) {
	origin := models.GeoPoint{Longitude: 37.62, Latitude: 55.75}
	pizzerias := []models.PizzeriaLocation{
		{Address: "far", Longitude: 37.62, Latitude: 55.95},
		{Address: "close", Longitude: 37.62, Latitude: 55.76},
		{Address: "middle", Longitude: 37.62, Latitude: 55.80},
	}

	nearest, km, ok := Nearest(pizzerias, origin)
	require.True(t, ok)
	assert.Equal(t, "close", nearest.Address)
	assert.InDelta(t, 1.11, km, 0.1)
}

func TestNearestTieKeepsFirst(t *testing.T) {
	origin := models.GeoPoint{Longitude: 37.62, Latitude: 55.75}
	// Two pizzerias at identical coordinates, one farther away.
	pizzerias := []models.PizzeriaLocation{
		{Address: "farther", Longitude: 37.62, Latitude: 55.87},
		{Address: "twin-a", Longitude: 37.65, Latitude: 55.78},
		{Address: "twin-b", Longitude: 37.65, Latitude: 55.78},
	}

	nearest, _, ok := Nearest(pizzerias, origin)
	require.True(t, ok)
	assert.Equal(t, "twin-a", nearest.Address)
}

func TestNearestEmpty(t *testing.T) {
	_, _, ok := Nearest(nil, models.GeoPoint{})
	assert.False(t, ok)
}
