package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/placemaster/internal/logging"
	"github.com/ppiankov/placemaster/internal/model"
	"github.com/ppiankov/placemaster/internal/oracle"
	"github.com/ppiankov/placemaster/internal/util"
)

// Provider is a named geocoder
type Provider interface {
	oracle.Geocoder
	Name() string
}

// Chain tries providers in order and returns the first match.
// When no provider matches, a transient failure takes precedence over a miss
// so the caller can retry later.
type Chain struct {
	providers []Provider
	log       *logging.Logger
}

// NewChain creates a chain over providers
func NewChain(log *logging.Logger, providers ...Provider) *Chain {
	return &Chain{
		providers: providers,
		log:       logging.OrNop(log).With("component", "geocode"),
	}
}

// Providers returns the provider names in order
func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Geocode implements oracle.Geocoder
func (c *Chain) Geocode(ctx context.Context, name string) (*oracle.GeocodeResult, error) {
	var transient, failure error
	for _, p := range c.providers {
		res, err := p.Geocode(ctx, name)
		if err == nil {
			c.log.Debug("geocoded", "name", name, "provider", p.Name(), "lat", res.Latitude, "lng", res.Longitude)
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		switch {
		case errors.Is(err, oracle.ErrNotFound):
			c.log.Debug("no match", "name", name, "provider", p.Name())
		case oracle.IsTransient(err):
			c.log.Info("provider unavailable", "name", name, "provider", p.Name(), "error", err)
			if transient == nil {
				transient = err
			}
		default:
			c.log.Warn("provider failed", "name", name, "provider", p.Name(), "error", err)
			if failure == nil {
				failure = err
			}
		}
	}

	switch {
	case transient != nil:
		return nil, transient
	case failure != nil:
		return nil, failure
	default:
		return nil, oracle.ErrNotFound
	}
}

// New builds the configured provider chain. It returns a nil geocoder when no
// provider is usable, which disables geocoding.
func New(cfg model.GeocodingConfig, proxy model.ProxyConfig, log *logging.Logger) (oracle.Geocoder, error) {
	log = logging.OrNop(log)
	client := util.NewHTTPClient(timeout(cfg.Timeout), proxy)

	var providers []Provider
	for _, name := range cfg.Providers {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case googleSource:
			if cfg.GoogleAPIKey == "" {
				log.Warn("google geocoding skipped: no API key")
				continue
			}
			g, err := NewGoogle(GoogleConfig{
				APIKey:    cfg.GoogleAPIKey,
				BaseURL:   cfg.GoogleBaseURL,
				Language:  cfg.Language,
				JapanOnly: cfg.JapanOnly,
				Fallback:  cfg.FallbackQueries,
				Client:    client,
			})
			if err != nil {
				return nil, err
			}
			providers = append(providers, g)
		case nominatimSource:
			n, err := NewNominatim(NominatimConfig{
				BaseURL:   cfg.NominatimBaseURL,
				UserAgent: cfg.UserAgent,
				Language:  cfg.Language,
				JapanOnly: cfg.JapanOnly,
				Client:    client,
			})
			if err != nil {
				return nil, err
			}
			providers = append(providers, n)
		case "", "none":
		default:
			return nil, fmt.Errorf("unknown geocoding provider: %s (supported: google, nominatim)", name)
		}
	}

	if len(providers) == 0 {
		return nil, nil
	}
	return NewChain(log, providers...), nil
}
