package geocode

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/placemaster/internal/oracle"
)

const (
	nominatimSource         = "nominatim"
	defaultNominatimBaseURL = "https://nominatim.openstreetmap.org"
)

// NominatimConfig configures the OpenStreetMap Nominatim client
type NominatimConfig struct {
	BaseURL string

	// UserAgent identifies the application; required by the usage policy
	UserAgent string
	Language  string
	JapanOnly bool
	Client    *http.Client
}

// Nominatim geocodes names with the Nominatim search API
type Nominatim struct {
	config NominatimConfig
	client *http.Client
}

type nominatimPlace struct {
	Lat         string           `json:"lat"`
	Lon         string           `json:"lon"`
	DisplayName string           `json:"display_name"`
	Importance  float64          `json:"importance"`
	Category    string           `json:"category"`
	Type        string           `json:"type"`
	AddressType string           `json:"addresstype"`
	Address     nominatimAddress `json:"address"`
}

type nominatimAddress struct {
	Province     string `json:"province"`
	State        string `json:"state"`
	City         string `json:"city"`
	Town         string `json:"town"`
	Village      string `json:"village"`
	CityDistrict string `json:"city_district"`
	Suburb       string `json:"suburb"`
	Quarter      string `json:"quarter"`
}

// NewNominatim creates a Nominatim geocoder
func NewNominatim(config NominatimConfig) (*Nominatim, error) {
	if config.UserAgent == "" {
		return nil, fmt.Errorf("nominatim requires a User-Agent")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultNominatimBaseURL
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	if config.Language == "" {
		config.Language = "ja"
	}

	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Nominatim{config: config, client: client}, nil
}

// Name returns the provider name
func (n *Nominatim) Name() string {
	return nominatimSource
}

// Geocode resolves name with a single search request
func (n *Nominatim) Geocode(ctx context.Context, name string) (*oracle.GeocodeResult, error) {
	params := url.Values{}
	params.Set("q", name)
	params.Set("format", "jsonv2")
	params.Set("addressdetails", "1")
	params.Set("limit", "5")
	params.Set("accept-language", n.config.Language)
	if n.config.JapanOnly {
		params.Set("countrycodes", "jp")
	}
	endpoint := n.config.BaseURL + "/search?" + params.Encode()

	header := http.Header{}
	header.Set("User-Agent", n.config.UserAgent)

	var places []nominatimPlace
	if err := getJSON(ctx, n.client, nominatimSource, endpoint, header, &places); err != nil {
		return nil, err
	}

	for _, p := range places {
		lat, errLat := strconv.ParseFloat(p.Lat, 64)
		lng, errLng := strconv.ParseFloat(p.Lon, 64)
		if errLat != nil || errLng != nil {
			continue
		}
		if n.config.JapanOnly && !InJapan(lat, lng) {
			continue
		}

		placeType := p.AddressType
		if placeType == "" {
			placeType = p.Type
		}
		return &oracle.GeocodeResult{
			Latitude:         lat,
			Longitude:        lng,
			Confidence:       nominatimConfidence(p, name),
			Source:           nominatimSource,
			Query:            name,
			FormattedAddress: p.DisplayName,
			PlaceType:        placeType,
			Prefecture:       firstNonEmpty(p.Address.Province, p.Address.State),
			Municipality:     firstNonEmpty(p.Address.City, p.Address.Town, p.Address.Village),
			District:         firstNonEmpty(p.Address.CityDistrict, p.Address.Suburb, p.Address.Quarter),
		}, nil
	}
	return nil, oracle.ErrNotFound
}

// nominatimConfidence maps OSM importance (0-1) onto 0.5-0.9, plus 0.1 for a name match
func nominatimConfidence(p nominatimPlace, name string) float64 {
	confidence := 0.5 + 0.4*math.Max(0, math.Min(1, p.Importance))
	if strings.Contains(p.DisplayName, name) {
		confidence += 0.1
	}
	return math.Min(confidence, 1.0)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
