// Package geo provides address resolution and distance-based delivery logic.
//
// The Resolver talks to a Yandex-geocoder-compatible REST API; the geometry
// helpers in this package are pure functions.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sliceline/pizzabot/internal/models"
)

// Resolver configuration constants
const (
	// DefaultGeocoderURL is the geocoding API endpoint.
	DefaultGeocoderURL = "https://geocode-maps.yandex.ru/1.x"
	// DefaultRequestTimeout bounds every geocoder round-trip.
	DefaultRequestTimeout = 10 * time.Second
)

// ResolvedAddress is a normalized address with administrative region fields.
type ResolvedAddress struct {
	Text    string
	Point   models.GeoPoint
	Country string
	Region  string
	City    string
}

// Opts holds configuration for the geocoding resolver.
type Opts struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Option configures the resolver.
type Option func(*Opts)

// WithAPIKey sets the geocoder API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL overrides the geocoder endpoint (used by tests).
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithHTTPClient overrides the HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Resolver resolves free-text addresses and coordinates against the
// geocoding service.
type Resolver struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewResolver creates a geocoding resolver from the provided options.
func NewResolver(opts ...Option) (*Resolver, error) {
	cfg := Opts{BaseURL: DefaultGeocoderURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("geocoder API key not set")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	slog.Debug("geo.NewResolver: resolver created", "base_url", cfg.BaseURL)
	return &Resolver{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, httpClient: cfg.HTTPClient}, nil
}

type geocodeResponse struct {
	Response struct {
		GeoObjectCollection struct {
			FeatureMember []struct {
				GeoObject struct {
					Point struct {
						Pos string `json:"pos"`
					} `json:"Point"`
					MetaDataProperty struct {
						GeocoderMetaData struct {
							Text    string `json:"text"`
							Address struct {
								Components []struct {
									Kind string `json:"kind"`
									Name string `json:"name"`
								} `json:"Components"`
							} `json:"Address"`
						} `json:"GeocoderMetaData"`
					} `json:"metaDataProperty"`
				} `json:"GeoObject"`
			} `json:"featureMember"`
		} `json:"GeoObjectCollection"`
	} `json:"response"`
}

// query runs one geocoder request for the given geocode argument and returns
// the most relevant result, or ErrAddressNotFound when there is none.
func (r *Resolver) query(ctx context.Context, geocode string) (ResolvedAddress, error) {
	params := url.Values{
		"geocode": {geocode},
		"apikey":  {r.apiKey},
		"format":  {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return ResolvedAddress{}, fmt.Errorf("failed to build geocoder request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		slog.Error("geocoder request failed", "error", err)
		return ResolvedAddress{}, fmt.Errorf("geocoder request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Error("geocoder request rejected", "status", resp.StatusCode)
		return ResolvedAddress{}, fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}

	var decoded geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ResolvedAddress{}, fmt.Errorf("failed to decode geocoder response: %w", err)
	}

	members := decoded.Response.GeoObjectCollection.FeatureMember
	if len(members) == 0 {
		return ResolvedAddress{}, models.ErrAddressNotFound
	}

	mostRelevant := members[0].GeoObject
	fields := strings.Fields(mostRelevant.Point.Pos)
	if len(fields) != 2 {
		return ResolvedAddress{}, fmt.Errorf("geocoder returned malformed point %q", mostRelevant.Point.Pos)
	}
	lon, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return ResolvedAddress{}, fmt.Errorf("geocoder returned malformed longitude: %w", err)
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return ResolvedAddress{}, fmt.Errorf("geocoder returned malformed latitude: %w", err)
	}

	resolved := ResolvedAddress{
		Text:  mostRelevant.MetaDataProperty.GeocoderMetaData.Text,
		Point: models.GeoPoint{Longitude: lon, Latitude: lat},
	}
	for _, component := range mostRelevant.MetaDataProperty.GeocoderMetaData.Address.Components {
		switch component.Kind {
		case "country":
			resolved.Country = component.Name
		case "province", "area":
			resolved.Region = component.Name
		case "locality":
			resolved.City = component.Name
		}
	}
	return resolved, nil
}

// Geocode resolves a free-text address to coordinates and region fields.
func (r *Resolver) Geocode(ctx context.Context, address string) (ResolvedAddress, error) {
	resolved, err := r.query(ctx, address)
	if err != nil {
		return ResolvedAddress{}, err
	}
	slog.Debug("geocoder resolved address", "address", address, "lon", resolved.Point.Longitude, "lat", resolved.Point.Latitude)
	return resolved, nil
}

// ReverseGeocode resolves coordinates to a postal address with region fields.
func (r *Resolver) ReverseGeocode(ctx context.Context, point models.GeoPoint) (ResolvedAddress, error) {
	geocode := fmt.Sprintf("%f,%f", point.Longitude, point.Latitude)
	resolved, err := r.query(ctx, geocode)
	if err != nil {
		return ResolvedAddress{}, err
	}
	// Keep the caller's exact coordinates; the geocoder snaps to the nearest
	// known object.
	resolved.Point = point
	slog.Debug("geocoder reverse-resolved point", "lon", point.Longitude, "lat", point.Latitude, "address", resolved.Text)
	return resolved, nil
}
