package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/placemaster/internal/oracle"
)

func TestNominatim_Geocode_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "placemaster-test/1.0", r.Header.Get("User-Agent"))
		q := r.URL.Query()
		assert.Equal(t, "大阪", q.Get("q"))
		assert.Equal(t, "jsonv2", q.Get("format"))
		assert.Equal(t, "jp", q.Get("countrycodes"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"lat": "34.6937569", "lon": "135.5014539", "display_name": "大阪市, 大阪府, 日本",
			 "importance": 0.75, "type": "city", "addresstype": "city",
			 "address": {"city": "大阪市", "province": "大阪府"}}
		]`))
	}))
	defer server.Close()

	n, err := NewNominatim(NominatimConfig{BaseURL: server.URL, UserAgent: "placemaster-test/1.0", JapanOnly: true})
	require.NoError(t, err)

	res, err := n.Geocode(context.Background(), "大阪")
	require.NoError(t, err)
	assert.InDelta(t, 34.6937, res.Latitude, 0.001)
	assert.InDelta(t, 135.5014, res.Longitude, 0.001)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	assert.Equal(t, "nominatim", res.Source)
	assert.Equal(t, "大阪府", res.Prefecture)
	assert.Equal(t, "大阪市", res.Municipality)
	assert.Equal(t, "city", res.PlaceType)
}

func TestNominatim_Geocode_EmptyIsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	n, err := NewNominatim(NominatimConfig{BaseURL: server.URL, UserAgent: "ua"})
	require.NoError(t, err)

	_, err = n.Geocode(context.Background(), "どこでもない")
	assert.ErrorIs(t, err, oracle.ErrNotFound)
}

func TestNominatim_Geocode_SkipsOutsideJapan(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"lat": "40.7", "lon": "-74.0", "display_name": "New York"}]`))
	}))
	defer server.Close()

	n, err := NewNominatim(NominatimConfig{BaseURL: server.URL, UserAgent: "ua", JapanOnly: true})
	require.NoError(t, err)

	_, err = n.Geocode(context.Background(), "ニューヨーク")
	assert.ErrorIs(t, err, oracle.ErrNotFound)
}

func TestNominatim_Geocode_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	n, err := NewNominatim(NominatimConfig{BaseURL: server.URL, UserAgent: "ua"})
	require.NoError(t, err)

	_, err = n.Geocode(context.Background(), "京都")
	require.Error(t, err)
	assert.True(t, oracle.IsTransient(err))
}

func TestNewNominatim_RequiresUserAgent(t *testing.T) {
	_, err := NewNominatim(NominatimConfig{})
	assert.Error(t, err)
}
