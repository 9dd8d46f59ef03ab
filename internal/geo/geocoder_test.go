package geo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sliceline/pizzabot/internal/models"
)

const geocoderFixture = `{
  "response": {
    "GeoObjectCollection": {
      "featureMember": [
        {
          "GeoObject": {
            "Point": {"pos": "37.620393 55.753960"},
            "metaDataProperty": {
              "GeocoderMetaData": {
                "text": "Россия, Москва, Красная площадь",
                "Address": {
                  "Components": [
                    {"kind": "country", "name": "Россия"},
                    {"kind": "province", "name": "Москва"},
                    {"kind": "locality", "name": "Москва"}
                  ]
                }
              }
            }
          }
        }
      ]
    }
  }
}`

func newTestResolver(t *testing.T, handler http.HandlerFunc) *Resolver {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	resolver, err := NewResolver(WithBaseURL(server.URL), WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	return resolver
}

func TestGeocode(t *testing.T) {
	resolver := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("apikey"); got != "test-key" {
			t.Errorf("apikey = %q, want test-key", got)
		}
		if got := r.URL.Query().Get("geocode"); got != "Красная площадь" {
			t.Errorf("geocode = %q", got)
		}
		fmt.Fprint(w, geocoderFixture)
	})

	resolved, err := resolver.Geocode(context.Background(), "Красная площадь")
	if err != nil {
		t.Fatalf("Geocode failed: %v", err)
	}
	if resolved.Point.Longitude != 37.620393 || resolved.Point.Latitude != 55.75396 {
		t.Errorf("unexpected point: %+v", resolved.Point)
	}
	if resolved.Country != "Россия" || resolved.City != "Москва" {
		t.Errorf("unexpected components: %+v", resolved)
	}
}

func TestGeocodeNotFound(t *testing.T) {
	resolver := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":{"GeoObjectCollection":{"featureMember":[]}}}`)
	})

	_, err := resolver.Geocode(context.Background(), "жлщфыерв")
	if !errors.Is(err, models.ErrAddressNotFound) {
		t.Errorf("expected ErrAddressNotFound, got %v", err)
	}
}

func TestReverseGeocodeKeepsCallerPoint(t *testing.T) {
	resolver := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, geocoderFixture)
	})

	point := models.GeoPoint{Longitude: 37.6204, Latitude: 55.754}
	resolved, err := resolver.ReverseGeocode(context.Background(), point)
	if err != nil {
		t.Fatalf("ReverseGeocode failed: %v", err)
	}
	// The user's pin is more precise than the geocoder's street match.
	if resolved.Point != point {
		t.Errorf("Point = %+v, want caller's %+v", resolved.Point, point)
	}
	if resolved.Text == "" {
		t.Error("expected resolved address text")
	}
}
