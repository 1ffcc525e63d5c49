// Package geocode implements the geocoding oracle over the Google Geocoding API
// and OpenStreetMap Nominatim, with an ordered fallback chain.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ppiankov/placemaster/internal/oracle"
)

// Japan bounding box with some margin
const (
	japanMinLat = 24.0
	japanMaxLat = 46.0
	japanMinLng = 123.0
	japanMaxLng = 146.0
)

// InJapan reports whether the coordinates fall inside the Japan bounding box
func InJapan(lat, lng float64) bool {
	return lat >= japanMinLat && lat <= japanMaxLat && lng >= japanMinLng && lng <= japanMaxLng
}

// getJSON performs a GET and decodes a JSON body into dst.
// Network failures, 429 and 5xx are transient; caller cancellation is returned as is.
func getJSON(ctx context.Context, client *http.Client, provider, url string, header http.Header, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return oracle.Transient(provider, 0, fmt.Errorf("execute request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return oracle.Transient(provider, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
		if oracle.IsRetryableStatus(resp.StatusCode) {
			return oracle.Transient(provider, resp.StatusCode, err)
		}
		return fmt.Errorf("%s: %w", provider, err)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%s: decode response: %w", provider, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func timeout(seconds int) time.Duration {
	if seconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(seconds) * time.Second
}
