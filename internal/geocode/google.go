package geocode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/placemaster/internal/oracle"
)

const (
	googleSource         = "google"
	defaultGoogleBaseURL = "https://maps.googleapis.com"
)

// GoogleConfig configures the Google Geocoding API client
type GoogleConfig struct {
	APIKey   string
	BaseURL  string
	Language string // Result language, default ja
	Region   string // Region bias (ccTLD), default jp

	// JapanOnly discards results outside the Japan bounding box
	JapanOnly bool

	// Fallback retries a miss with "<name> 日本", "<name>市", "<name>町", "<name>駅"
	Fallback bool

	Client *http.Client
}

// Google geocodes names with the Google Geocoding API
type Google struct {
	config GoogleConfig
	client *http.Client
}

type googleResponse struct {
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
	Results      []googleResult `json:"results"`
}

type googleResult struct {
	FormattedAddress  string                   `json:"formatted_address"`
	Types             []string                 `json:"types"`
	AddressComponents []googleAddressComponent `json:"address_components"`
	Geometry          struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
}

type googleAddressComponent struct {
	LongName string   `json:"long_name"`
	Types    []string `json:"types"`
}

// NewGoogle creates a Google geocoder
func NewGoogle(config GoogleConfig) (*Google, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Google Maps API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultGoogleBaseURL
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	if config.Language == "" {
		config.Language = "ja"
	}
	if config.Region == "" {
		config.Region = "jp"
	}

	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Google{config: config, client: client}, nil
}

// Name returns the provider name
func (g *Google) Name() string {
	return googleSource
}

// Geocode resolves name, trying fallback queries on a miss
func (g *Google) Geocode(ctx context.Context, name string) (*oracle.GeocodeResult, error) {
	queries := []string{name}
	if g.config.Fallback {
		queries = append(queries, FallbackQueries(name)...)
	}

	for _, q := range queries {
		res, err := g.lookup(ctx, name, q)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, oracle.ErrNotFound) {
			return nil, err
		}
	}
	return nil, oracle.ErrNotFound
}

// FallbackQueries returns the alternate queries tried when the plain name misses
func FallbackQueries(name string) []string {
	return []string{
		name + " 日本",
		name + "市",
		name + "町",
		name + "駅",
	}
}

func (g *Google) lookup(ctx context.Context, name, query string) (*oracle.GeocodeResult, error) {
	params := url.Values{}
	params.Set("address", query)
	params.Set("key", g.config.APIKey)
	params.Set("language", g.config.Language)
	params.Set("region", g.config.Region)
	endpoint := g.config.BaseURL + "/maps/api/geocode/json?" + params.Encode()

	var resp googleResponse
	if err := getJSON(ctx, g.client, googleSource, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, oracle.ErrNotFound
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		return nil, oracle.Transient(googleSource, http.StatusOK, fmt.Errorf("status %s: %s", resp.Status, resp.ErrorMessage))
	default:
		// REQUEST_DENIED, INVALID_REQUEST, OVER_DAILY_LIMIT
		return nil, fmt.Errorf("google: status %s: %s", resp.Status, resp.ErrorMessage)
	}

	best := g.selectBest(resp.Results, name)
	if best == nil {
		return nil, oracle.ErrNotFound
	}

	lat, lng := best.Geometry.Location.Lat, best.Geometry.Location.Lng
	if g.config.JapanOnly && !InJapan(lat, lng) {
		return nil, oracle.ErrNotFound
	}

	prefecture, municipality, district := parseAddressComponents(best.AddressComponents)
	placeType := ""
	if len(best.Types) > 0 {
		placeType = best.Types[0]
	}

	return &oracle.GeocodeResult{
		Latitude:         lat,
		Longitude:        lng,
		Confidence:       googleConfidence(best, name),
		Source:           googleSource,
		Query:            query,
		FormattedAddress: best.FormattedAddress,
		PlaceType:        placeType,
		Prefecture:       prefecture,
		Municipality:     municipality,
		District:         district,
	}, nil
}

// selectBest prefers an address containing the name, then a result inside Japan
func (g *Google) selectBest(results []googleResult, name string) *googleResult {
	if len(results) == 0 {
		return nil
	}
	for i := range results {
		if strings.Contains(results[i].FormattedAddress, name) {
			return &results[i]
		}
	}
	for i := range results {
		loc := results[i].Geometry.Location
		if InJapan(loc.Lat, loc.Lng) {
			return &results[i]
		}
	}
	return &results[0]
}

func parseAddressComponents(components []googleAddressComponent) (prefecture, municipality, district string) {
	for _, c := range components {
		switch {
		case hasType(c.Types, "administrative_area_level_1"):
			prefecture = c.LongName
		case hasType(c.Types, "locality"):
			municipality = c.LongName
		case hasType(c.Types, "administrative_area_level_2"):
			if municipality == "" {
				municipality = c.LongName
			}
		case hasType(c.Types, "sublocality_level_1"), hasType(c.Types, "ward"):
			if district == "" {
				district = c.LongName
			}
		}
	}
	return prefecture, municipality, district
}

func googleConfidence(r *googleResult, name string) float64 {
	confidence := 0.7
	if strings.Contains(r.FormattedAddress, name) {
		confidence += 0.2
	}
	switch r.Geometry.LocationType {
	case "ROOFTOP":
		confidence += 0.1
	case "RANGE_INTERPOLATED":
		confidence += 0.05
	}
	return math.Min(confidence, 1.0)
}

func hasType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
